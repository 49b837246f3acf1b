package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/PeladoCollado/cpuload/loadctl/client"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	Server  string
	Retries int
	Timeout time.Duration
}

func (g *globalOptions) client() *client.Client {
	opts := client.DefaultOptions()
	opts.RetryMax = g.Retries
	opts.Timeout = g.Timeout
	return client.New(g.Server, opts)
}

func newRootCmd() *cobra.Command {
	global := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "loadctl",
		Short:         "Drive and observe a cpuload server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&global.Server, "server", "http://localhost:8000", "cpuload server base URL")
	cmd.PersistentFlags().IntVar(&global.Retries, "retries", client.DefaultRetryMax, "retries for connection errors and 5xx responses")
	cmd.PersistentFlags().DurationVar(&global.Timeout, "timeout", client.DefaultTimeout, "per-request timeout, must cover a whole load session")

	cmd.AddCommand(newHelloCmd(global))
	cmd.AddCommand(newIntenseCmd(global))
	cmd.AddCommand(newRampCmd(global))
	cmd.AddCommand(newSessionsCmd(global))
	cmd.AddCommand(newWatchCmd())
	return cmd
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
