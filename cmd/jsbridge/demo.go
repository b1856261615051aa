package main

import (
	"context"
	"errors"
	"time"
)

// demoCalc is bound as `calc` in every eval session.
type demoCalc struct{}

func (demoCalc) Add(a, b float64) float64 { return a + b }
func (demoCalc) Sub(a, b float64) float64 { return a - b }
func (demoCalc) Mul(a, b float64) float64 { return a * b }

func (demoCalc) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func (demoCalc) Sum(values ...float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// Echo returns its argument unchanged, identity and cycles included.
func (demoCalc) Echo(v any) any { return v }

func (demoCalc) Now() time.Time { return time.Now().UTC() }

// Sleep resolves after ms milliseconds, or fails when the session closes.
func (demoCalc) Sleep(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
