package oauth

import (
	"context"
	"fmt"
	"time"

	"pier/internal/marketplace"
	"pier/pkg/logging"
)

// Initiator begins a provider-side authorization. Satisfied by
// *marketplace.Client.
type Initiator interface {
	OAuthInit(ctx context.Context, provider string) (*marketplace.InitResponse, error)
}

// Flow runs one complete authorization handshake: backend initiation, state
// issuance, the external authorization surface, and callback completion.
type Flow struct {
	initiator Initiator
	ledger    *StateLedger
	processor *CallbackProcessor
	launcher  Launcher

	// wait bounds how long Authorize blocks for a callback. Defaults to
	// StateValidity, which is the authoritative upper bound anyway: any
	// later callback would fail state validation.
	wait time.Duration
}

// NewFlow wires a flow to its collaborators.
func NewFlow(initiator Initiator, ledger *StateLedger, processor *CallbackProcessor, launcher Launcher) *Flow {
	return &Flow{
		initiator: initiator,
		ledger:    ledger,
		processor: processor,
		launcher:  launcher,
		wait:      StateValidity,
	}
}

// Authorize runs the handshake for provider and blocks until a terminal
// outcome. Failures during the callback phase are FlowErrors; setup
// failures (initiation, listener) are plain errors.
func (f *Flow) Authorize(ctx context.Context, provider, returnURL string) (*Completion, error) {
	init, err := f.initiator.OAuthInit(ctx, provider)
	if err != nil {
		return nil, err
	}

	// The backend's advisory state is discarded; the ledger's token is the
	// one the callback must present.
	verifier := NewCodeVerifier()
	state, err := f.ledger.Issue(provider, verifier, returnURL)
	if err != nil {
		return nil, err
	}

	authURL, err := AuthorizeURL(init.AuthURL, state, S256Challenge(verifier), f.launcher.RedirectURI())
	if err != nil {
		return nil, err
	}

	handle, err := f.launcher.Launch(ctx, authURL)
	if err != nil {
		return nil, fmt.Errorf("launch authorization: %w", err)
	}
	defer handle.Cancel()

	timer := time.NewTimer(f.wait)
	defer timer.Stop()

	logging.Info("OAuth", "Waiting for authorization callback for provider %s", provider)
	select {
	case cb, ok := <-handle.Result():
		if !ok {
			return nil, &FlowError{Reason: ReasonCancelled, Detail: "authorization surface closed"}
		}
		return f.processor.Complete(ctx, cb)
	case <-timer.C:
		return nil, &FlowError{Reason: ReasonTimeout}
	case <-ctx.Done():
		return nil, &FlowError{Reason: ReasonCancelled, Detail: ctx.Err().Error()}
	}
}
