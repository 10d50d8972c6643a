package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"pier/internal/install"
)

// authFailedError marks an installation that died on the authorization step,
// so Execute can map it to ExitCodeAuthFailed.
type authFailedError struct {
	msg string
}

func (e *authFailedError) Error() string {
	return e.msg
}

var installCmd = &cobra.Command{
	Use:   "install <package>",
	Short: "Install an MCP server from the marketplace",
	Long: `Install fetches the package descriptor, plans the installation steps for
its transport and auth requirements, and runs them. Packages that require
provider authorization open the browser for the OAuth handshake first.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	a := newApp()
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := args[0]
	pkg, err := a.market.FetchPackage(ctx, name)
	if err != nil {
		return err
	}

	fmt.Printf("Installing %s (%s transport)\n", displayName(pkg.DisplayName, pkg.Name), pkg.Transport)

	updates, err := a.orchestrator.StartInstallation(ctx, pkg)
	if err != nil {
		return err
	}

	final, err := renderInstallation(updates)
	if err != nil {
		return err
	}

	switch final.State {
	case install.StateCompleted:
		fmt.Printf("\n%s installed successfully.\n", name)
		return nil
	case install.StateFailed:
		if failedStep(final) == install.StepOAuth {
			return &authFailedError{msg: final.SessionError}
		}
		return fmt.Errorf("installation failed: %s", final.SessionError)
	default:
		return fmt.Errorf("installation ended in unexpected state %s", final.State)
	}
}

// renderInstallation consumes the snapshot stream, driving one spinner per
// loading step, and returns the terminal snapshot.
func renderInstallation(updates <-chan install.Snapshot) (install.Snapshot, error) {
	var final install.Snapshot
	rendered := map[install.StepID]install.StepStatus{}

	var active *spinner.Spinner
	stopSpinner := func() {
		if active != nil {
			active.Stop()
			active = nil
		}
	}
	defer stopSpinner()

	hintedAuth := false
	for snap := range updates {
		final = snap
		if snap.State == install.StateAwaitingAuth && !hintedAuth {
			hintedAuth = true
			fmt.Println("  Complete the authorization in your browser...")
		}
		for _, step := range snap.Steps {
			if rendered[step.ID] == step.Status {
				continue
			}
			rendered[step.ID] = step.Status
			switch step.Status {
			case install.StepLoading:
				stopSpinner()
				active = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				active.Suffix = " " + step.Label
				active.Start()
			case install.StepSuccess:
				stopSpinner()
				fmt.Printf("  ✓ %s\n", step.Label)
			case install.StepError:
				stopSpinner()
				fmt.Printf("  ✗ %s: %s\n", step.Label, step.Message)
			}
		}
	}
	return final, nil
}

func failedStep(snap install.Snapshot) install.StepID {
	for _, step := range snap.Steps {
		if step.Status == install.StepError {
			return step.ID
		}
	}
	return ""
}

func displayName(display, name string) string {
	if display != "" {
		return display
	}
	return name
}

func init() {
	rootCmd.AddCommand(installCmd)
}
