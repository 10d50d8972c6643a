// Package oauth implements the client side of the authorization handshake
// used by installations that need provider access: single-use CSRF state
// tokens (StateLedger), provider-keyed token storage with expiry enforced at
// read time (TokenVault), the callback completion protocol
// (CallbackProcessor), and a browser-based launcher for the external
// authorization surface.
//
// The backend performs the actual code-for-token exchange; this package
// never sees a client secret. PKCE verifiers are generated here and travel
// only through the ledger and the exchange request.
package oauth
