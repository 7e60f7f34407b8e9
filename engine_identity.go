package credkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/croftbax/credkit/identity"
	"github.com/croftbax/credkit/internal/stores"
)

// BuildOAuthRedirect mints a single-use anti-forgery state and returns the
// provider authorization URL carrying it.
func (e *Engine) BuildOAuthRedirect(ctx context.Context, providerName string) (string, error) {
	p, ok := e.providers[providerName]
	if !ok {
		return "", ErrProviderUnknown
	}
	state, err := e.states.Issue(ctx, providerName, e.config.Identity.StateTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return p.AuthCodeURL(state), nil
}

// CompleteOAuthCallback finishes a federated login. The state dies on first
// presentation; the code exchange runs once under the configured timeout and
// is never retried. The resolved account goes through the same grant logic
// as a password login, step-up included.
//
// Identity resolution:
//
//	known (provider, subject)        -> that account
//	provider email = verified local  -> link to that account
//	provider email = unverified local-> LinkConflict
//	otherwise                        -> new passwordless account
func (e *Engine) CompleteOAuthCallback(ctx context.Context, providerName, code, state string) (*LoginResult, error) {
	p, ok := e.providers[providerName]
	if !ok {
		return nil, ErrProviderUnknown
	}

	boundProvider, err := e.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, stores.ErrStateNotFound) {
			return nil, ErrStateMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if boundProvider != providerName {
		return nil, ErrStateMismatch
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, e.config.Identity.ExchangeTimeout)
	defer cancel()
	ident, err := p.FetchIdentity(exchangeCtx, code)
	if err != nil {
		e.log.Warn().Err(err).Str("provider", providerName).Msg("oauth exchange failed")
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchangeFailed, err)
	}

	acc, err := e.resolveIdentity(ctx, p, ident)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, ErrAccountInactive
	}
	return e.finishLogin(ctx, acc)
}

func (e *Engine) resolveIdentity(ctx context.Context, p identity.Provider, ident identity.Identity) (*Account, error) {
	acc, err := e.accounts.FindByIdentity(ctx, p.Name, ident.Subject)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	if ident.Email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", ErrOAuthExchangeFailed)
	}
	email := normalizeEmail(ident.Email)

	existing, err := e.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		// Auto-linking onto an email claim nobody has proven is account
		// takeover by preregistration, so both sides must be verified.
		if !existing.Verified || !ident.EmailVerified {
			return nil, ErrLinkConflict
		}
		if err := e.linkTo(ctx, existing.ID, p.Name, ident); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, ErrAccountNotFound):
		created, err := e.accounts.Create(ctx, NewAccount{
			Email:    email,
			Verified: ident.EmailVerified,
		})
		if err != nil {
			return nil, err
		}
		if err := e.linkTo(ctx, created.ID, p.Name, ident); err != nil {
			return nil, err
		}
		return created, nil
	default:
		return nil, err
	}
}

func (e *Engine) linkTo(ctx context.Context, accountID, provider string, ident identity.Identity) error {
	err := e.accounts.LinkIdentity(ctx, accountID, LinkedIdentity{
		Provider: provider,
		Subject:  ident.Subject,
		Email:    ident.Email,
		LinkedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	e.metrics.linksCreated.Add(1)
	e.log.Info().Str("account", accountID).Str("provider", provider).Msg("identity linked")
	return nil
}

// ListLinkedIdentities returns the account's federated identities.
func (e *Engine) ListLinkedIdentities(ctx context.Context, accountID string) ([]LinkedIdentity, error) {
	return e.accounts.ListIdentities(ctx, accountID)
}

// UnlinkIdentity removes the account's link for a provider. Refused when the
// link is the account's only way to sign in.
func (e *Engine) UnlinkIdentity(ctx context.Context, accountID, providerName string) error {
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	links, err := e.accounts.ListIdentities(ctx, accountID)
	if err != nil {
		return err
	}

	found := false
	for _, l := range links {
		if l.Provider == providerName {
			found = true
			break
		}
	}
	if !found {
		return ErrIdentityNotFound
	}
	if acc.PasswordHash == "" && len(links) == 1 {
		return ErrLastCredential
	}
	return e.accounts.UnlinkIdentity(ctx, accountID, providerName)
}
