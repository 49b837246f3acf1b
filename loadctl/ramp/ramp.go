package ramp

import (
	"context"

	"github.com/PeladoCollado/cpuload/types"
)

// Calculator yields the utilization for each successive load session.
type Calculator interface {
	Next() int
}

func NewStepCalculator(minUtilization, maxUtilization, step int) Calculator {
	minUtilization, maxUtilization = bounds(minUtilization, maxUtilization)
	if step < 1 {
		step = 1
	}
	return &StepCalculator{max: maxUtilization, step: step, curr: minUtilization}
}

func NewExponentialCalculator(minUtilization, maxUtilization int) Calculator {
	return newMultiplyingCalculator(minUtilization, maxUtilization, 2)
}

func NewLogarithmicCalculator(minUtilization, maxUtilization int) Calculator {
	return newMultiplyingCalculator(minUtilization, maxUtilization, 10)
}

func newMultiplyingCalculator(minUtilization, maxUtilization, factor int) Calculator {
	minUtilization, maxUtilization = bounds(minUtilization, maxUtilization)
	// zero never grows under multiplication
	if minUtilization == 0 {
		minUtilization = 1
		if maxUtilization == 0 {
			minUtilization = 0
		}
	}
	return &MultiplyingCalculator{max: maxUtilization, factor: factor, curr: minUtilization}
}

type StepCalculator struct {
	max  int
	step int
	curr int
}

func (s *StepCalculator) Next() int {
	n := s.curr
	if s.curr+s.step > s.max {
		s.curr = s.max
	} else {
		s.curr += s.step
	}
	return n
}

type MultiplyingCalculator struct {
	max    int
	factor int
	curr   int
}

func (m *MultiplyingCalculator) Next() int {
	n := m.curr
	if m.curr*m.factor > m.max {
		m.curr = m.max
	} else {
		m.curr *= m.factor
	}
	return n
}

func bounds(minUtilization, maxUtilization int) (int, int) {
	minUtilization = types.ClampUtilization(minUtilization)
	maxUtilization = types.ClampUtilization(maxUtilization)
	if maxUtilization < minUtilization {
		minUtilization = maxUtilization
	}
	return minUtilization, maxUtilization
}

// Run starts rounds sessions one after another, each at the calculator's next utilization.
// It stops at the first error from fn or when ctx ends.
func Run(ctx context.Context, calc Calculator, rounds int, fn func(ctx context.Context, round, utilization int) error) error {
	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, round, calc.Next()); err != nil {
			return err
		}
	}
	return nil
}
