package oauth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"pier/internal/marketplace"
	"pier/internal/store"
)

type stubInitiator struct {
	authURL string
	err     error
}

func (s *stubInitiator) OAuthInit(context.Context, string) (*marketplace.InitResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &marketplace.InitResponse{AuthURL: s.authURL, State: "advisory"}, nil
}

// scriptedLauncher records the launched URL and plays back a canned
// callback, optionally rewriting it with the state from the launched URL.
type scriptedLauncher struct {
	launched  string
	callback  *Callback
	echoState bool
	cancelled bool
}

func (s *scriptedLauncher) RedirectURI() string {
	return "http://localhost:19877/oauth/callback"
}

func (s *scriptedLauncher) Launch(_ context.Context, authURL string) (AuthorizationHandle, error) {
	s.launched = authURL
	ch := make(chan Callback, 1)
	if s.callback != nil {
		cb := *s.callback
		if s.echoState {
			u, _ := url.Parse(authURL)
			cb.State = u.Query().Get("state")
		}
		ch <- cb
	} else {
		close(ch)
	}
	return &scriptedHandle{ch: ch, launcher: s}, nil
}

type scriptedHandle struct {
	ch       chan Callback
	launcher *scriptedLauncher
}

func (h *scriptedHandle) Result() <-chan Callback { return h.ch }
func (h *scriptedHandle) Cancel()                 { h.launcher.cancelled = true }

func newTestFlow(t *testing.T, launcher Launcher, ex Exchanger) (*Flow, *TokenVault) {
	t.Helper()
	ledger := NewStateLedger(store.NewMemoryStore())
	t.Cleanup(ledger.Stop)
	vault := NewTokenVault(store.NewMemoryStore())
	proc := NewCallbackProcessor(ledger, vault, ex, launcher.RedirectURI())
	return NewFlow(&stubInitiator{authURL: "https://provider.example/authorize?client_id=abc"}, ledger, proc, launcher), vault
}

func TestFlowAuthorizeHappyPath(t *testing.T) {
	launcher := &scriptedLauncher{callback: &Callback{Code: "auth-code"}, echoState: true}
	ex := &stubExchanger{data: &marketplace.TokenData{AccessToken: "tok", ExpiresIn: 3600}}
	flow, vault := newTestFlow(t, launcher, ex)

	done, err := flow.Authorize(context.Background(), "github", "/servers/github")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if done.Provider != "github" || done.ReturnURL != "/servers/github" {
		t.Errorf("unexpected completion: %+v", done)
	}

	// The launched URL carries the ledger state, PKCE and redirect URI.
	u, err := url.Parse(launcher.launched)
	if err != nil {
		t.Fatalf("launched URL does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") == "" || q.Get("state") == "advisory" {
		t.Errorf("expected ledger state in launched URL, got %q", q.Get("state"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Error("expected PKCE parameters in launched URL")
	}
	if !strings.Contains(q.Get("redirect_uri"), "/oauth/callback") {
		t.Errorf("expected redirect URI pinned, got %q", q.Get("redirect_uri"))
	}

	// The exchange saw the verifier whose challenge went out.
	if len(ex.calls) != 1 {
		t.Fatalf("expected one exchange, got %d", len(ex.calls))
	}
	if S256Challenge(ex.calls[0].CodeVerifier) != q.Get("code_challenge") {
		t.Error("exchange verifier does not match launched challenge")
	}

	if vault.Get("github") == nil {
		t.Error("expected token stored after a successful flow")
	}
	if !launcher.cancelled {
		t.Error("expected handle released after completion")
	}
}

func TestFlowAuthorizeForgedState(t *testing.T) {
	launcher := &scriptedLauncher{callback: &Callback{Code: "auth-code", State: "forged"}}
	ex := &stubExchanger{}
	flow, vault := newTestFlow(t, launcher, ex)

	_, err := flow.Authorize(context.Background(), "github", "")
	expectReason(t, err, ReasonCsrfOrExpiry)
	if len(ex.calls) != 0 {
		t.Error("forged state must not reach the exchange")
	}
	if vault.Get("github") != nil {
		t.Error("forged state must not store a token")
	}
}

func TestFlowAuthorizeCancelledSurface(t *testing.T) {
	launcher := &scriptedLauncher{} // closes the result channel immediately
	flow, _ := newTestFlow(t, launcher, &stubExchanger{})

	_, err := flow.Authorize(context.Background(), "github", "")
	expectReason(t, err, ReasonCancelled)
}

func TestFlowAuthorizeTimeout(t *testing.T) {
	launcher := &hangingLauncher{}
	flow, _ := newTestFlow(t, launcher, &stubExchanger{})
	flow.wait = 20 * time.Millisecond

	_, err := flow.Authorize(context.Background(), "github", "")
	expectReason(t, err, ReasonTimeout)
}

func TestFlowAuthorizeContextCancel(t *testing.T) {
	launcher := &hangingLauncher{}
	flow, _ := newTestFlow(t, launcher, &stubExchanger{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := flow.Authorize(ctx, "github", "")
	expectReason(t, err, ReasonCancelled)
}

// hangingLauncher never delivers a callback.
type hangingLauncher struct{}

func (hangingLauncher) RedirectURI() string { return "http://localhost:19877/oauth/callback" }

func (hangingLauncher) Launch(context.Context, string) (AuthorizationHandle, error) {
	return &hangingHandle{ch: make(chan Callback)}, nil
}

type hangingHandle struct{ ch chan Callback }

func (h *hangingHandle) Result() <-chan Callback { return h.ch }
func (h *hangingHandle) Cancel()                 {}
