package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrStateNotFound is returned by Consume when the presented state was
	// never issued or was already consumed.
	ErrStateNotFound = errors.New("authorization state not found")

	// ErrStateExpired is returned by Consume when the presented state was
	// issued more than StateValidity ago.
	ErrStateExpired = errors.New("authorization state expired")
)

// FailureReason classifies why an authorization flow did not complete.
type FailureReason string

const (
	// ReasonProviderError means the provider denied or aborted the
	// authorization and said so in the callback.
	ReasonProviderError FailureReason = "provider_error"

	// ReasonMalformedCallback means the callback carried neither an error
	// nor a complete code/state pair.
	ReasonMalformedCallback FailureReason = "malformed_callback"

	// ReasonCsrfOrExpiry means the callback state failed validation, either
	// because it was never issued (or already used) or because it aged out.
	ReasonCsrfOrExpiry FailureReason = "csrf_or_expiry"

	// ReasonExchangeFailed means the code-for-token exchange with the
	// backend did not produce a usable token.
	ReasonExchangeFailed FailureReason = "exchange_failed"

	// ReasonCancelled means the waiting side abandoned the flow before a
	// callback arrived.
	ReasonCancelled FailureReason = "cancelled"

	// ReasonTimeout means no callback arrived within the validity window.
	ReasonTimeout FailureReason = "timeout"
)

// FlowError is a classified authorization failure. Its message is safe to
// show to users; Detail carries operator-level context for logs.
type FlowError struct {
	Reason FailureReason
	Detail string
}

func (e *FlowError) Error() string {
	msg := e.userMessage()
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *FlowError) userMessage() string {
	switch e.Reason {
	case ReasonProviderError:
		return "the provider rejected the authorization request"
	case ReasonMalformedCallback:
		return "the authorization response was incomplete"
	case ReasonCsrfOrExpiry:
		return "the authorization request could not be verified or has expired, please try again"
	case ReasonExchangeFailed:
		return "exchanging the authorization code for a token failed"
	case ReasonCancelled:
		return "the authorization was cancelled"
	case ReasonTimeout:
		return "timed out waiting for the authorization to complete"
	default:
		return "authorization failed"
	}
}

// FailureReasonOf extracts the classification from err, or an empty reason
// when err is not a FlowError.
func FailureReasonOf(err error) FailureReason {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
