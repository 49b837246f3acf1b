package main

import (
	"context"
	"fmt"

	"github.com/PeladoCollado/cpuload/loadctl/ramp"
	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/spf13/cobra"
)

const (
	calculatorStep        = "step"
	calculatorExponential = "exponential"
	calculatorLogarithmic = "logarithmic"
)

type rampOptions struct {
	Calculator string
	Min        int
	Max        int
	Step       int
	Rounds     int
}

type rampRound struct {
	Round int `json:"round"`
	intenseOutput
}

func newRampCmd(global *globalOptions) *cobra.Command {
	var opts rampOptions

	cmd := &cobra.Command{
		Use:   "ramp --calculator <step|exponential|logarithmic> --rounds <n>",
		Short: "Run load sessions back to back with increasing utilization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Rounds <= 0 {
				return fmt.Errorf("--rounds must be > 0")
			}
			calc, err := newCalculator(opts)
			if err != nil {
				return err
			}
			c := global.client()
			return ramp.Run(cmd.Context(), calc, opts.Rounds, func(ctx context.Context, round, utilization int) error {
				logger.Logger.Infow("Starting ramp round", "round", round, "utilization", utilization)
				result, err := c.Intense(ctx, utilization)
				if err != nil {
					return fmt.Errorf("round %d at %d%%: %w", round, utilization, err)
				}
				return writeJSON(cmd.OutOrStdout(), rampRound{Round: round, intenseOutput: intenseOutput{
					SessionID:      result.SessionID,
					Utilization:    utilization,
					Message:        result.Message,
					ElapsedSeconds: result.Elapsed.Seconds(),
				}})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Calculator, "calculator", calculatorStep, "utilization sequence: step, exponential or logarithmic")
	cmd.Flags().IntVar(&opts.Min, "min", 10, "starting utilization")
	cmd.Flags().IntVar(&opts.Max, "max", 100, "maximum utilization")
	cmd.Flags().IntVar(&opts.Step, "step", 10, "increment for the step calculator")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 10, "number of load sessions to run")
	return cmd
}

func newCalculator(opts rampOptions) (ramp.Calculator, error) {
	switch opts.Calculator {
	case calculatorStep:
		return ramp.NewStepCalculator(opts.Min, opts.Max, opts.Step), nil
	case calculatorExponential:
		return ramp.NewExponentialCalculator(opts.Min, opts.Max), nil
	case calculatorLogarithmic:
		return ramp.NewLogarithmicCalculator(opts.Min, opts.Max), nil
	default:
		return nil, fmt.Errorf("unknown calculator %q", opts.Calculator)
	}
}
