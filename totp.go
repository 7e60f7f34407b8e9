package credkit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

// totpManager owns TOTP secret provisioning, code verification, and sealing
// secrets for repository storage. Verification walks the configured skew
// window one step at a time so the matched step survives for the replay
// guard; a plain window validate would discard it.
type totpManager struct {
	issuer string
	period time.Duration
	digits otp.Digits
	skew   int
	aead   cipher.AEAD
}

func newTOTPManager(cfg TwoFactorConfig) (*totpManager, error) {
	skew := cfg.Skew
	if skew < 0 {
		skew = 0
	}
	m := &totpManager{
		issuer: cfg.Issuer,
		period: cfg.Period,
		digits: otp.DigitsSix,
		skew:   skew,
	}
	if cfg.Digits == 8 {
		m.digits = otp.DigitsEight
	}
	if len(cfg.SecretCipherKey) == 32 {
		block, err := aes.NewCipher(cfg.SecretCipherKey)
		if err != nil {
			return nil, err
		}
		if m.aead, err = cipher.NewGCM(block); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// generate mints a fresh secret and the otpauth provisioning URL for it.
func (m *totpManager) generate(accountEmail string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountEmail,
		Period:      uint(m.period / time.Second),
		Digits:      m.digits,
		SecretSize:  20,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// verify checks code against secret at now, accepting the current step and
// Skew steps on either side. On success it returns the matched step so the
// caller can refuse a second spend of the same code.
func (m *totpManager) verify(secret, code string, now time.Time) (bool, int64, error) {
	if len(code) != m.digits.Length() {
		return false, 0, nil
	}
	step := now.Unix() / int64(m.period/time.Second)
	for offset := -m.skew; offset <= m.skew; offset++ {
		candidate := step + int64(offset)
		if candidate < 0 {
			continue
		}
		expected, err := hotp.GenerateCodeCustom(secret, uint64(candidate), hotp.ValidateOpts{
			Digits:    m.digits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, candidate, nil
		}
	}
	return false, 0, nil
}

// stepWindow is how long a matched step stays relevant for replay purposes.
func (m *totpManager) stepWindow() time.Duration {
	return time.Duration(2*m.skew+2) * m.period
}

// seal encrypts a secret for storage as nonce || ciphertext.
func (m *totpManager) seal(secret string) ([]byte, error) {
	if m.aead == nil {
		return nil, errors.New("two-factor secret cipher key not configured")
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return m.aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

// open decrypts a sealed secret.
func (m *totpManager) open(sealed []byte) (string, error) {
	if m.aead == nil {
		return "", errors.New("two-factor secret cipher key not configured")
	}
	ns := m.aead.NonceSize()
	if len(sealed) <= ns {
		return "", fmt.Errorf("sealed secret too short")
	}
	plain, err := m.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
