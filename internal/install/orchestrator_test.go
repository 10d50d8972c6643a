package install

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pier/internal/marketplace"
	"pier/internal/oauth"
)

// recordingRunner records the step order and fails where told to.
type recordingRunner struct {
	mu      sync.Mutex
	ran     []StepID
	failAt  StepID
	failErr error
	block   chan struct{} // when set, Run blocks until closed or ctx ends
}

func (r *recordingRunner) Run(ctx context.Context, id StepID, _ *marketplace.Package) error {
	r.mu.Lock()
	r.ran = append(r.ran, id)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if id == r.failAt {
		return r.failErr
	}
	return nil
}

func (r *recordingRunner) steps() []StepID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepID(nil), r.ran...)
}

type stubAuthorizer struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (s *stubAuthorizer) Authorize(ctx context.Context, provider, returnURL string) (*oauth.Completion, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, &oauth.FlowError{Reason: oauth.ReasonCancelled, Detail: ctx.Err().Error()}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &oauth.Completion{Provider: provider}, nil
}

func githubPackage() *marketplace.Package {
	return &marketplace.Package{
		Name:      "github",
		Transport: marketplace.TransportStdio,
		AuthType:  marketplace.AuthOAuth,
		Provider:  "github",
		Command:   "npx",
	}
}

func drain(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	var all []Snapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return all
			}
			all = append(all, snap)
		case <-timeout:
			t.Fatal("snapshot stream did not terminate")
		}
	}
}

func TestInstallStdioOAuthEndToEnd(t *testing.T) {
	runner := &recordingRunner{}
	auth := &stubAuthorizer{}
	o := NewOrchestrator(runner, auth, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)
	require.NotEmpty(t, snaps)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateCompleted, final.State)
	require.Len(t, final.Steps, 5)
	wantOrder := []StepID{StepOAuth, StepDownload, StepInstall, StepConfigure, StepTest}
	for i, step := range final.Steps {
		assert.Equal(t, wantOrder[i], step.ID)
		assert.Equal(t, StepSuccess, step.Status)
	}

	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, wantOrder[1:], runner.steps(), "oauth must not reach the step runner")
	assert.Equal(t, StateAwaitingAuth, findState(snaps, StateAwaitingAuth))
}

func findState(snaps []Snapshot, want SessionState) SessionState {
	for _, s := range snaps {
		if s.State == want {
			return s.State
		}
	}
	return ""
}

func TestInstallForgedCallbackFailsContained(t *testing.T) {
	runner := &recordingRunner{}
	auth := &stubAuthorizer{err: &oauth.FlowError{Reason: oauth.ReasonCsrfOrExpiry}}
	o := NewOrchestrator(runner, auth, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.NotEmpty(t, final.SessionError)

	require.Len(t, final.Steps, 5)
	assert.Equal(t, StepError, final.Steps[0].Status)
	for _, step := range final.Steps[1:] {
		assert.Equal(t, StepPending, step.Status, "steps after the failed one must never start")
	}
	assert.Empty(t, runner.steps())
}

func TestInstallStepFailureContainment(t *testing.T) {
	runner := &recordingRunner{failAt: StepInstall, failErr: errors.New("command \"npx\" not found")}
	o := NewOrchestrator(runner, &stubAuthorizer{}, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.SessionError, "npx")

	byID := map[StepID]Step{}
	for _, step := range final.Steps {
		byID[step.ID] = step
	}
	assert.Equal(t, StepSuccess, byID[StepOAuth].Status)
	assert.Equal(t, StepSuccess, byID[StepDownload].Status)
	assert.Equal(t, StepError, byID[StepInstall].Status)
	assert.Equal(t, StepPending, byID[StepConfigure].Status)
	assert.Equal(t, StepPending, byID[StepTest].Status)
	assert.Equal(t, []StepID{StepDownload, StepInstall}, runner.steps())
}

func TestInstallMonotonicStepTransitions(t *testing.T) {
	runner := &recordingRunner{failAt: StepConfigure, failErr: errors.New("rejected")}
	o := NewOrchestrator(runner, &stubAuthorizer{}, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	snaps := drain(t, ch)

	// For every step index, the observed status sequence never leaves a
	// terminal status and never skips backwards.
	rank := map[StepStatus]int{StepPending: 0, StepLoading: 1, StepSuccess: 2, StepError: 2}
	for i := range snaps[0].Steps {
		prev := StepPending
		for _, snap := range snaps {
			cur := snap.Steps[i].Status
			assert.GreaterOrEqual(t, rank[cur], rank[prev],
				"step %s regressed from %s to %s", snap.Steps[i].ID, prev, cur)
			if prev.Terminal() {
				assert.Equal(t, prev, cur, "terminal status must not change")
			}
			prev = cur
		}
	}
}

func TestInstallAlreadyInstalling(t *testing.T) {
	block := make(chan struct{})
	runner := &recordingRunner{block: block}
	o := NewOrchestrator(runner, &stubAuthorizer{}, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)

	// Wait until the first session is visibly running.
	require.Eventually(t, func() bool {
		snap, ok := o.Session("github")
		return ok && snap.State == StateAwaitingAuth || ok && snap.State == StateRunning
	}, time.Second, time.Millisecond)
	before, _ := o.Session("github")

	_, err = o.StartInstallation(context.Background(), githubPackage())
	require.ErrorIs(t, err, ErrAlreadyInstalling)

	after, _ := o.Session("github")
	assert.Equal(t, before.SessionID, after.SessionID, "existing session must be untouched")

	close(block)
	drain(t, ch)
}

func TestInstallCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := &recordingRunner{block: block}
	o := NewOrchestrator(runner, &stubAuthorizer{}, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := o.Session("github")
		return ok && snap.State == StateRunning && len(runner.steps()) > 0
	}, time.Second, time.Millisecond)

	require.True(t, o.CancelInstallation("github"))
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.SessionError, "cancelled")
}

func TestCancelUnknownSession(t *testing.T) {
	o := NewOrchestrator(&recordingRunner{}, nil, nil)
	assert.False(t, o.CancelInstallation("nope"))
}

func TestInstallAuthCancelledWhileAwaiting(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	auth := &stubAuthorizer{block: block}
	o := NewOrchestrator(&recordingRunner{}, auth, nil, WithReleaseGrace(time.Millisecond))

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := o.Session("github")
		return ok && snap.State == StateAwaitingAuth
	}, time.Second, time.Millisecond)

	require.True(t, o.CancelInstallation("github"))
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, StepError, final.Steps[0].Status)
	for _, step := range final.Steps[1:] {
		assert.Equal(t, StepPending, step.Status)
	}
}

func TestInstallCompletionHookAndRelease(t *testing.T) {
	var hookMu sync.Mutex
	var hooked []string
	o := NewOrchestrator(&recordingRunner{}, &stubAuthorizer{}, nil,
		WithReleaseGrace(time.Millisecond),
		WithCompletionHook(func(server string) {
			hookMu.Lock()
			hooked = append(hooked, server)
			hookMu.Unlock()
		}),
	)

	ch, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	drain(t, ch)

	require.Eventually(t, func() bool {
		hookMu.Lock()
		defer hookMu.Unlock()
		return len(hooked) == 1 && hooked[0] == "github"
	}, time.Second, time.Millisecond)

	// After the grace delay the reference is free for a new attempt.
	require.Eventually(t, func() bool {
		_, live := o.Session("github")
		return !live
	}, time.Second, time.Millisecond)

	ch2, err := o.StartInstallation(context.Background(), githubPackage())
	require.NoError(t, err)
	drain(t, ch2)
}

// mutatingRunner rewrites the package during download the way the real
// runner adopts freshly fetched metadata, then fails at failAt.
type mutatingRunner struct {
	failAt  StepID
	failErr error
}

func (r *mutatingRunner) Run(ctx context.Context, id StepID, pkg *marketplace.Package) error {
	if id == StepDownload {
		for i := 0; i < 200; i++ {
			fetched := *pkg
			fetched.Version = fmt.Sprintf("1.0.%d", i)
			fetched.Env = map[string]string{"RELEASE": fetched.Version}
			*pkg = fetched
		}
	}
	if id == r.failAt {
		return r.failErr
	}
	return nil
}

func TestSessionObserversDuringMetadataRefresh(t *testing.T) {
	runner := &mutatingRunner{failAt: StepConfigure, failErr: errors.New("rejected")}
	o := NewOrchestrator(runner, &stubAuthorizer{}, nil, WithReleaseGrace(time.Millisecond))

	pkg := githubPackage()
	ch, err := o.StartInstallation(context.Background(), pkg)
	require.NoError(t, err)

	// Poll the observer surface as fast as possible while the download step
	// rewrites the package metadata and the configure step fails.
	stop := make(chan struct{})
	var pollMu sync.Mutex
	var polled []Snapshot
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if snap, ok := o.Session("github"); ok {
				pollMu.Lock()
				polled = append(polled, snap)
				pollMu.Unlock()
			}
		}
	}()

	snaps := drain(t, ch)
	close(stop)
	wg.Wait()

	assert.Empty(t, pkg.Version, "caller's package must not be mutated")

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateFailed, final.State)

	// A failed step and the Failed state become visible together; no
	// observation may catch one without the other.
	for _, snap := range append(snaps, polled...) {
		assert.Equal(t, "github", snap.Server)
		if snap.State == StateFailed {
			continue
		}
		for _, step := range snap.Steps {
			assert.NotEqual(t, StepError, step.Status,
				"step %s seen failed while session state is %s", step.ID, snap.State)
		}
	}
}

func TestInstallUnsupportedTransportFailsFast(t *testing.T) {
	o := NewOrchestrator(&recordingRunner{}, nil, nil)
	pkg := &marketplace.Package{Name: "weird", Transport: "websocket"}
	_, err := o.StartInstallation(context.Background(), pkg)
	var ute *UnsupportedTransportError
	require.ErrorAs(t, err, &ute)

	_, live := o.Session("weird")
	assert.False(t, live, "a rejected plan must not reserve the reference")
}
