package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pier/pkg/logging"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage stored provider tokens",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		providers := a.vault.Providers()
		if len(providers) == 0 {
			fmt.Println("No stored tokens.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Provider", "Token", "Expires"})
		for _, provider := range providers {
			rec := a.vault.Get(provider)
			if rec == nil {
				continue
			}
			expires := "never"
			if !rec.ExpiresAt.IsZero() {
				expires = rec.ExpiresAt.Local().Format(time.RFC3339)
			}
			t.AppendRow(table.Row{provider, logging.TruncateToken(rec.AccessToken), expires})
		}
		t.Render()
		return nil
	},
}

var tokensRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Delete the stored token for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		a.vault.Remove(args[0])
		fmt.Printf("Removed token for %s.\n", args[0])
		return nil
	},
}

var tokensClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		a.vault.Clear()
		fmt.Println("All tokens removed.")
		return nil
	},
}

func init() {
	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensRemoveCmd)
	tokensCmd.AddCommand(tokensClearCmd)
	rootCmd.AddCommand(tokensCmd)
}
