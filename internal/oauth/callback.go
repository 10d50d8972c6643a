package oauth

import (
	"context"
	"time"

	"pier/internal/marketplace"
	"pier/pkg/logging"
)

// Callback is the authorization response delivered to the redirect target.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError reports whether the provider returned an error instead of a code.
func (c Callback) IsError() bool {
	return c.Error != ""
}

// Completion is the terminal success of an authorization flow.
type Completion struct {
	Provider  string
	ReturnURL string
}

// Exchanger swaps an authorization code for token material. Satisfied by
// *marketplace.Client.
type Exchanger interface {
	ExchangeCode(ctx context.Context, req marketplace.ExchangeRequest) (*marketplace.TokenData, error)
}

// CallbackProcessor turns inbound authorization callbacks into stored
// tokens. Every path through Complete either returns a Completion with
// exactly one vault write behind it, or a FlowError with none.
type CallbackProcessor struct {
	ledger      *StateLedger
	vault       *TokenVault
	exchanger   Exchanger
	redirectURI string
}

// NewCallbackProcessor wires the processor to its collaborators. redirectURI
// must match the one embedded in the authorization URL.
func NewCallbackProcessor(ledger *StateLedger, vault *TokenVault, exchanger Exchanger, redirectURI string) *CallbackProcessor {
	return &CallbackProcessor{
		ledger:      ledger,
		vault:       vault,
		exchanger:   exchanger,
		redirectURI: redirectURI,
	}
}

// Complete processes one callback. Provider-reported errors win over
// everything else; after that the callback must carry a code and a state,
// the state must consume cleanly, and the exchange must yield a token.
// Whatever the outcome, a presented state is spent.
func (p *CallbackProcessor) Complete(ctx context.Context, cb Callback) (*Completion, error) {
	if cb.IsError() {
		detail := cb.ErrorDescription
		if detail == "" {
			detail = cb.Error
		}
		logging.Warn("OAuth", "Provider returned error: %s", detail)
		return nil, &FlowError{Reason: ReasonProviderError, Detail: detail}
	}

	if cb.Code == "" || cb.State == "" {
		return nil, &FlowError{Reason: ReasonMalformedCallback, Detail: "missing code or state parameter"}
	}

	rec, err := p.ledger.Consume(cb.State)
	if err != nil {
		// Never-issued, reused and expired states all collapse into one
		// outward classification so a probing caller learns nothing.
		logging.Warn("OAuth", "State validation failed for %s: %v", logging.TruncateToken(cb.State), err)
		return nil, &FlowError{Reason: ReasonCsrfOrExpiry}
	}

	td, err := p.exchanger.ExchangeCode(ctx, marketplace.ExchangeRequest{
		Code:         cb.Code,
		State:        cb.State,
		Provider:     rec.Provider,
		CodeVerifier: rec.CodeVerifier,
		RedirectURI:  p.redirectURI,
	})
	if err != nil {
		logging.Warn("OAuth", "Code exchange failed for provider %s: %v", rec.Provider, err)
		return nil, &FlowError{Reason: ReasonExchangeFailed, Detail: err.Error()}
	}

	p.vault.Set(rec.Provider, TokenRecord{
		AccessToken:  td.AccessToken,
		RefreshToken: td.RefreshToken,
		TokenType:    td.TokenType,
		Scope:        td.Scope,
	}, time.Duration(td.ExpiresIn)*time.Second)

	logging.Info("OAuth", "Authorization completed for provider %s", rec.Provider)
	return &Completion{Provider: rec.Provider, ReturnURL: rec.ReturnURL}, nil
}
