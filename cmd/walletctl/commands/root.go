// Package commands implements the walletctl CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/huykn/querysync"
)

// ClientOpener builds a client from a config file path. The returned func
// releases it.
type ClientOpener func(ctx context.Context, configPath string) (*querysync.Client, func(), error)

// CLI represents the command line interface for walletctl.
type CLI struct {
	open       ClientOpener
	configPath string
	rootCmd    *cobra.Command
}

// New creates a new CLI instance.
func New(open ClientOpener) *CLI {
	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Command line client for the marketplace wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       querysync.Version,
	}
	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	c := &CLI{open: open, rootCmd: rootCmd}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file (QUERYSYNC_* variables override it)")

	rootCmd.AddCommand(
		c.newLoginCmd(),
		c.newLogoutCmd(),
		c.newPasswordCmd(),
		c.newMeCmd(),
		c.newNotificationsCmd(),
		c.newChatCmd(),
		c.newBalanceCmd(),
		c.newCoinsCmd(),
		c.newRateCmd(),
		c.newHistoryCmd(),
		c.newRefillCmd(),
		c.newLoanCmd(),
		c.newConvertCmd(),
		c.newRepayCmd(),
		c.newStatsCmd(),
		c.newVersionCmd(),
	)

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// withClient opens a client, runs fn and releases the client.
func (c *CLI) withClient(cmd *cobra.Command, fn func(ctx context.Context, client *querysync.Client) error) error {
	ctx := cmd.Context()
	client, release, err := c.open(ctx, c.configPath)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, client)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			info := querysync.GetVersionInfo()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "walletctl version %s (%s)\n", info.Version, info.GoVersion)
		},
	}
}

func (c *CLI) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics of a fresh client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(_ context.Context, client *querysync.Client) error {
				return printJSON(cmd.OutOrStdout(), client.Stats())
			})
		},
	}
}
