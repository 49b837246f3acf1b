package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type intenseOutput struct {
	SessionID      string  `json:"sessionId"`
	Utilization    int     `json:"utilization"`
	Message        string  `json:"message"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

func newHelloCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			greeting, err := global.client().Hello(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), greeting)
		},
	}
}

func newIntenseCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "intense <utilization>",
		Short: "Run one load session and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			utilization, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("utilization must be an integer: %w", err)
			}
			result, err := global.client().Intense(cmd.Context(), utilization)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), intenseOutput{
				SessionID:      result.SessionID,
				Utilization:    utilization,
				Message:        result.Message,
				ElapsedSeconds: result.Elapsed.Seconds(),
			})
		},
	}
}

func newSessionsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active and recently finished load sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := global.client().Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
}
