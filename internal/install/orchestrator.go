package install

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pier/internal/marketplace"
	"pier/internal/oauth"
	"pier/pkg/logging"
)

// ErrAlreadyInstalling rejects a second concurrent installation of the same
// server. The existing session is untouched.
var ErrAlreadyInstalling = errors.New("installation already in progress")

// releaseGrace is how long a finished session stays in the in-flight set so
// observers can still resolve its terminal state.
const releaseGrace = 2 * time.Second

// Authorizer runs the provider authorization handshake to completion.
// Satisfied by *oauth.Flow.
type Authorizer interface {
	Authorize(ctx context.Context, provider, returnURL string) (*oauth.Completion, error)
}

// Orchestrator executes installation plans. One session per server reference
// at a time; sessions for different servers run concurrently.
type Orchestrator struct {
	runner StepRunner
	auth   Authorizer
	tokens *oauth.TokenSource

	// onCompleted, when set, is invoked once per completed installation,
	// best effort, off the session goroutine.
	onCompleted func(server string)

	grace time.Duration

	mu       sync.Mutex
	inflight map[string]*session
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCompletionHook registers a best-effort callback fired after each
// completed installation, typically a server-listing refresh.
func WithCompletionHook(hook func(server string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onCompleted = hook }
}

// WithReleaseGrace overrides how long terminal sessions linger in the
// in-flight set.
func WithReleaseGrace(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.grace = d }
}

// NewOrchestrator wires an orchestrator. auth may be nil when no installable
// package requires authorization; a plan with an oauth step then fails that
// step instead of panicking.
func NewOrchestrator(runner StepRunner, auth Authorizer, tokens *oauth.TokenSource, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner:   runner,
		auth:     auth,
		tokens:   tokens,
		grace:    releaseGrace,
		inflight: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartInstallation plans and runs an installation of pkg. The returned
// channel delivers a snapshot after every observable change and closes after
// the terminal one. A second call for the same package name while a session
// is live fails with ErrAlreadyInstalling.
func (o *Orchestrator) StartInstallation(ctx context.Context, pkg *marketplace.Package) (<-chan Snapshot, error) {
	plan, err := Plan(pkg.Transport, pkg.AuthType)
	if err != nil {
		return nil, err
	}

	sess := newSession(pkg.Name, plan)
	o.mu.Lock()
	if _, live := o.inflight[pkg.Name]; live {
		o.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", pkg.Name, ErrAlreadyInstalling)
	}
	o.inflight[pkg.Name] = sess
	o.mu.Unlock()

	// Sized so every possible snapshot fits: the run goroutine never blocks
	// on a slow consumer.
	updates := make(chan Snapshot, 2*len(plan)+4)

	// The run goroutine works on its own copy: download's metadata refresh
	// mutates the struct, and neither the caller's package nor concurrent
	// Session observers may see that mid-write.
	work := *pkg
	go o.run(ctx, sess, &work, updates)
	return updates, nil
}

// CancelInstallation aborts the live session for server, if one exists and
// is still cancellable.
func (o *Orchestrator) CancelInstallation(server string) bool {
	o.mu.Lock()
	sess, ok := o.inflight[server]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return sess.requestCancel()
}

// Session returns the current snapshot of the live session for server.
func (o *Orchestrator) Session(server string) (Snapshot, bool) {
	o.mu.Lock()
	sess, ok := o.inflight[server]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Token exposes vault reads for collaborators that need to act as an
// authenticated provider.
func (o *Orchestrator) Token(ctx context.Context, provider string) (oauth.RedactedToken, bool) {
	if o.tokens == nil {
		return oauth.RedactedToken{}, false
	}
	return o.tokens.Token(ctx, provider)
}

func (o *Orchestrator) run(ctx context.Context, sess *session, pkg *marketplace.Package, updates chan<- Snapshot) {
	defer close(updates)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.setCancel(cancel)

	emit := func() { updates <- sess.snapshot() }

	emit() // Planning, all steps pending
	sess.setState(StateRunning)
	emit()

	for i := range sess.steps {
		id := sess.steps[i].ID
		sess.transition(i, StepLoading, "")

		if id == StepOAuth {
			sess.setState(StateAwaitingAuth)
			emit()
			if err := o.runAuthStep(ctx, pkg); err != nil {
				sess.fail(i, err.Error())
				emit()
				o.release(sess)
				return
			}
			sess.setState(StateRunning)
			sess.transition(i, StepSuccess, "")
			emit()
			continue
		}

		emit()
		if err := o.runner.Run(ctx, id, pkg); err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("installation cancelled")
			}
			sess.fail(i, err.Error())
			emit()
			o.release(sess)
			return
		}
		sess.transition(i, StepSuccess, "")
		emit()
	}

	sess.setState(StateCompleted)
	emit()
	logging.Info("Install", "Installation of %s completed", pkg.Name)

	if o.onCompleted != nil {
		// Best effort: a panicking or slow hook must not disturb teardown.
		go func(server string) {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("Install", "Completion hook panicked: %v", r)
				}
			}()
			o.onCompleted(server)
		}(pkg.Name)
	}
	o.release(sess)
}

func (o *Orchestrator) runAuthStep(ctx context.Context, pkg *marketplace.Package) error {
	if o.auth == nil {
		return fmt.Errorf("no authorization flow configured")
	}
	provider := pkg.Provider
	if provider == "" {
		provider = pkg.Name
	}
	done, err := o.auth.Authorize(ctx, provider, "")
	if err != nil {
		return err
	}
	logging.Debug("Install", "Authorization for %s completed via provider %s", pkg.Name, done.Provider)
	return nil
}

// release drops the session from the in-flight set after the grace delay.
func (o *Orchestrator) release(sess *session) {
	go func() {
		time.Sleep(o.grace)
		o.mu.Lock()
		if o.inflight[sess.server] == sess {
			delete(o.inflight, sess.server)
		}
		o.mu.Unlock()
	}()
}
