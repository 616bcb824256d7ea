// Package main is the entry point for walletctl, a command line client for
// the marketplace wallet, chat and notification APIs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/huykn/querysync"
	"github.com/huykn/querysync/cmd/walletctl/commands"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, openClient))
}

// openClient loads configuration and builds a client for one invocation.
func openClient(_ context.Context, configPath string) (*querysync.Client, func(), error) {
	cfg, err := querysync.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := querysync.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, open commands.ClientOpener) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New(open)
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	return 0
}
