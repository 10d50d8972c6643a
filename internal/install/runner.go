package install

import (
	"context"
	"fmt"
	"os/exec"

	"pier/internal/marketplace"
	"pier/internal/oauth"
	"pier/pkg/logging"
)

// StepRunner performs the external work behind one installation step. The
// oauth step is not a StepRunner concern; the orchestrator drives it through
// the authorization flow.
type StepRunner interface {
	Run(ctx context.Context, id StepID, pkg *marketplace.Package) error
}

// Registrar registers an installation with the backend. Satisfied by
// *marketplace.Client.
type Registrar interface {
	FetchPackage(ctx context.Context, name string) (*marketplace.Package, error)
	Install(ctx context.Context, name string, req marketplace.InstallRequest) error
}

// Runner is the production StepRunner. download re-fetches the package
// metadata so a stale descriptor fails before anything is registered;
// install checks the local runtime can actually start the command;
// configure and validate register the installation with the backend;
// connect and test probe the server over its own transport.
type Runner struct {
	Market Registrar
	Tokens *oauth.TokenSource

	// Scope and OrganizationID qualify the backend registration.
	Scope          string
	OrganizationID string

	// Probe overrides the connectivity probe, mainly for tests.
	Probe ProbeFunc

	// LookPath overrides command resolution, mainly for tests.
	LookPath func(name string) (string, error)
}

// Run implements StepRunner.
func (r *Runner) Run(ctx context.Context, id StepID, pkg *marketplace.Package) error {
	switch id {
	case StepDownload:
		return r.download(ctx, pkg)
	case StepInstall:
		return r.checkRuntime(pkg)
	case StepConfigure, StepValidate:
		return r.register(ctx, pkg)
	case StepConnect, StepTest:
		return r.probe(ctx, pkg)
	default:
		return fmt.Errorf("no runner for step %q", id)
	}
}

func (r *Runner) download(ctx context.Context, pkg *marketplace.Package) error {
	fetched, err := r.Market.FetchPackage(ctx, pkg.Name)
	if err != nil {
		return err
	}
	if fetched.Transport != pkg.Transport {
		return fmt.Errorf("package %q changed transport from %s to %s, refresh and retry",
			pkg.Name, pkg.Transport, fetched.Transport)
	}
	// The fetched copy may carry newer command or env details.
	*pkg = *fetched
	logging.Debug("Install", "Fetched package %s (version %s)", pkg.Name, pkg.Version)
	return nil
}

func (r *Runner) checkRuntime(pkg *marketplace.Package) error {
	if pkg.Command == "" {
		return fmt.Errorf("package %q declares stdio transport but no command", pkg.Name)
	}
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(pkg.Command)
	if err != nil {
		return fmt.Errorf("command %q not found on this system: %w", pkg.Command, err)
	}
	logging.Debug("Install", "Command %s resolves to %s", pkg.Command, path)
	return nil
}

func (r *Runner) register(ctx context.Context, pkg *marketplace.Package) error {
	return r.Market.Install(ctx, pkg.Name, marketplace.InstallRequest{
		Scope:          r.Scope,
		OrganizationID: r.OrganizationID,
		Config:         pkg.Env,
	})
}

func (r *Runner) probe(ctx context.Context, pkg *marketplace.Package) error {
	var bearer oauth.RedactedToken
	if pkg.RequiresAuth() && r.Tokens != nil {
		provider := pkg.Provider
		if provider == "" {
			provider = pkg.Name
		}
		if tok, ok := r.Tokens.Token(ctx, provider); ok {
			bearer = tok
		}
	}
	probe := r.Probe
	if probe == nil {
		probe = Probe
	}
	return probe(ctx, pkg, bearer)
}
