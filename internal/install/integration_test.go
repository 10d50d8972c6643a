package install

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pier/internal/marketplace"
	"pier/internal/oauth"
	"pier/internal/store"
)

// fakeBackend stands in for the marketplace over the initiation, exchange
// and registration endpoints.
type fakeBackend struct {
	exchangeErr error
	exchanged   int
	installed   int
}

func (b *fakeBackend) OAuthInit(context.Context, string) (*marketplace.InitResponse, error) {
	return &marketplace.InitResponse{AuthURL: "https://provider.example/authorize?client_id=abc"}, nil
}

func (b *fakeBackend) ExchangeCode(_ context.Context, req marketplace.ExchangeRequest) (*marketplace.TokenData, error) {
	b.exchanged++
	if b.exchangeErr != nil {
		return nil, b.exchangeErr
	}
	return &marketplace.TokenData{AccessToken: "access-tok", ExpiresIn: 3600}, nil
}

func (b *fakeBackend) FetchPackage(_ context.Context, name string) (*marketplace.Package, error) {
	p := githubPackage()
	p.Name = name
	return p, nil
}

func (b *fakeBackend) Install(context.Context, string, marketplace.InstallRequest) error {
	b.installed++
	return nil
}

// callbackLauncher simulates the browser: it immediately delivers a callback
// for the launched URL, echoing its state unless forged.
type callbackLauncher struct {
	forgeState string
}

func (l *callbackLauncher) RedirectURI() string {
	return "http://localhost:19877/oauth/callback"
}

func (l *callbackLauncher) Launch(_ context.Context, authURL string) (oauth.AuthorizationHandle, error) {
	state := l.forgeState
	if state == "" {
		u, err := url.Parse(authURL)
		if err != nil {
			return nil, err
		}
		state = u.Query().Get("state")
	}
	ch := make(chan oauth.Callback, 1)
	ch <- oauth.Callback{Code: "auth-code", State: state}
	return &callbackHandle{ch: ch}, nil
}

type callbackHandle struct{ ch chan oauth.Callback }

func (h *callbackHandle) Result() <-chan oauth.Callback { return h.ch }
func (h *callbackHandle) Cancel()                       {}

func newIntegrationOrchestrator(t *testing.T, backend *fakeBackend, launcher oauth.Launcher) (*Orchestrator, *oauth.TokenVault) {
	t.Helper()

	ledger := oauth.NewStateLedger(store.NewMemoryStore())
	t.Cleanup(ledger.Stop)
	vault := oauth.NewTokenVault(store.NewMemoryStore())
	processor := oauth.NewCallbackProcessor(ledger, vault, backend, launcher.RedirectURI())
	flow := oauth.NewFlow(backend, ledger, processor, launcher)
	tokens := oauth.NewTokenSource(vault, nil)

	runner := &Runner{
		Market:   backend,
		Tokens:   tokens,
		Scope:    "user",
		LookPath: func(string) (string, error) { return "/usr/bin/npx", nil },
		Probe: func(_ context.Context, _ *marketplace.Package, bearer oauth.RedactedToken) error {
			assert.Equal(t, "access-tok", bearer.Reveal(), "probe should use the token the handshake stored")
			return nil
		},
	}
	return NewOrchestrator(runner, flow, tokens, WithReleaseGrace(time.Millisecond)), vault
}

func TestEndToEndStdioOAuthInstall(t *testing.T) {
	backend := &fakeBackend{}
	o, vault := newIntegrationOrchestrator(t, backend, &callbackLauncher{})

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	require.Equal(t, StateCompleted, final.State, "session error: %s", final.SessionError)
	require.Len(t, final.Steps, 5)
	for _, step := range final.Steps {
		assert.Equal(t, StepSuccess, step.Status, "step %s", step.ID)
	}

	assert.Equal(t, 1, backend.exchanged, "exactly one code exchange")
	assert.Equal(t, 1, backend.installed)
	require.NotNil(t, vault.Get("github"))
	assert.Equal(t, "access-tok", vault.Get("github").AccessToken)
}

func TestEndToEndForgedStateFailsInstall(t *testing.T) {
	backend := &fakeBackend{}
	o, vault := newIntegrationOrchestrator(t, backend, &callbackLauncher{forgeState: "never-issued"})

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, StepError, final.Steps[0].Status)
	for _, step := range final.Steps[1:] {
		assert.Equal(t, StepPending, step.Status)
	}

	assert.Equal(t, 0, backend.exchanged, "a forged state must never reach the exchange")
	assert.Equal(t, 0, backend.installed)
	assert.Nil(t, vault.Get("github"))
}
