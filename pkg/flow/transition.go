package flow

import "time"

// Transition is the directive a step returns describing what happens next.
// It is a closed set: NextStep, WaitAndNextStep, Schedule and Complete are
// the only variants, and the executor matches them exhaustively. A nil
// Transition is equivalent to Complete with no result.
//
// Every non-terminal variant may carry a Timeout override for the next step
// invocation; zero means the engine default applies. Values above the engine
// ceiling are clamped, not rejected.
type Transition interface {
	transition()
}

// NextStep proceeds to Step immediately with the given params.
type NextStep struct {
	Step    string
	Params  Params
	Timeout time.Duration
}

// WaitAndNextStep suspends the instance for Delay, then proceeds to Step.
// The suspension is cancellable and bounded by the next step's timeout.
type WaitAndNextStep struct {
	Delay   time.Duration
	Step    string
	Params  Params
	Timeout time.Duration
}

// Schedule registers Step to run at a future point, decoupled from the
// current execution. The scheduled invocation is dropped if the workflow
// reaches a terminal status first.
type Schedule struct {
	At      time.Time
	Step    string
	Params  Params
	Timeout time.Duration
}

// Complete ends the workflow with an optional result.
type Complete struct {
	Result any
}

func (*NextStep) transition()        {}
func (*WaitAndNextStep) transition() {}
func (*Schedule) transition()        {}
func (*Complete) transition()        {}

// Next builds an immediate transition to step.
func Next(step string, params Params) *NextStep {
	return &NextStep{Step: step, Params: params}
}

// Wait builds a delayed transition to step.
func Wait(delay time.Duration, step string, params Params) *WaitAndNextStep {
	return &WaitAndNextStep{Delay: delay, Step: step, Params: params}
}

// At schedules step at an absolute time.
func At(t time.Time, step string, params Params) *Schedule {
	return &Schedule{At: t, Step: step, Params: params}
}

// In schedules step after a delay.
func In(d time.Duration, step string, params Params) *Schedule {
	return &Schedule{At: time.Now().Add(d), Step: step, Params: params}
}

// Done ends the workflow with a result.
func Done(result any) *Complete {
	return &Complete{Result: result}
}
