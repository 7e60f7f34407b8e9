// Package identity models upstream OAuth2 identity providers for the
// federated login and account-linking flows. It owns endpoint configuration,
// authorization URL construction, and the code-exchange plus userinfo fetch;
// state handling and linking policy live in the engine.
package identity
