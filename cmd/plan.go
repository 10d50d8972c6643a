package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pier/internal/install"
	"pier/internal/marketplace"
)

var (
	flagPlanTransport string
	flagPlanAuth      string
)

var planCmd = &cobra.Command{
	Use:   "plan [package]",
	Short: "Show the installation steps a package would run",
	Long: `Plan previews the ordered step sequence for a package without executing
anything. With a package argument the transport and auth type come from the
marketplace; otherwise pass --transport and --auth directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	transport := marketplace.Transport(flagPlanTransport)
	auth := marketplace.AuthType(flagPlanAuth)

	if len(args) == 1 {
		a := newApp()
		defer a.Close()

		pkg, err := a.market.FetchPackage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		transport, auth = pkg.Transport, pkg.AuthType
		fmt.Printf("Plan for %s (transport=%s, auth=%s):\n\n", pkg.Name, transport, auth)
	}

	steps, err := install.Plan(transport, auth)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Step", "Description"})
	for i, id := range steps {
		t.AppendRow(table.Row{i + 1, id, stepDescription(id)})
	}
	t.Render()
	return nil
}

func stepDescription(id install.StepID) string {
	switch id {
	case install.StepOAuth:
		return "Authorize with the provider in the browser"
	case install.StepDownload:
		return "Fetch the server package from the marketplace"
	case install.StepInstall:
		return "Check the local runtime can start the server"
	case install.StepConfigure:
		return "Register the installation with the backend"
	case install.StepConnect:
		return "Connect to the remote server"
	case install.StepValidate:
		return "Validate configuration with the backend"
	case install.StepTest:
		return "Probe the server over its transport"
	default:
		return ""
	}
}

func init() {
	planCmd.Flags().StringVar(&flagPlanTransport, "transport", "stdio",
		"Transport to plan for: stdio, http, sse")
	planCmd.Flags().StringVar(&flagPlanAuth, "auth", "none",
		"Auth type to plan for: none, oauth")
	rootCmd.AddCommand(planCmd)
}
