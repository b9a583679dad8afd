package pipeline

import (
	"context"
	"errors"
	"fmt"

	socialauth "github.com/goliatone/go-socialauth"
)

// Context is the state shared by the steps of one handshake.
type Context struct {
	Backend   string
	UID       any
	Profile   socialauth.AccountProfile
	ExtraData socialauth.ExtraData
	// Account is preset when an authenticated user is linking a new
	// provider, otherwise the steps resolve or create it.
	Account socialauth.Account
	Link    *socialauth.Link
	// NewAccount and NewLink report what this run created.
	NewAccount bool
	NewLink    bool
	Values     map[string]any
}

// Set stores a free form value for later steps.
func (c *Context) Set(key string, value any) {
	if c.Values == nil {
		c.Values = map[string]any{}
	}
	c.Values[key] = value
}

// Get returns a value stored with Set.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Step is one unit of a handshake pipeline.
type Step interface {
	Name() string
	Run(ctx context.Context, hc *Context) error
}

type namedStep struct {
	name string
	fn   func(ctx context.Context, hc *Context) error
}

func (s namedStep) Name() string { return s.name }

func (s namedStep) Run(ctx context.Context, hc *Context) error { return s.fn(ctx, hc) }

// StepFunc wraps fn as a Step called name.
func StepFunc(name string, fn func(ctx context.Context, hc *Context) error) Step {
	return namedStep{name: name, fn: fn}
}

// Result describes a completed run.
type Result struct {
	Context *Context
	// Executed lists the steps that ran, in order.
	Executed []string
	// StoppedAt names the step that short-circuited with StopPipeline.
	StoppedAt string
}

// Stopped reports whether a step ended the run early.
func (r *Result) Stopped() bool {
	return r != nil && r.StoppedAt != ""
}

// Runner executes steps in order. The first error ends the run.
type Runner struct {
	steps   []Step
	logger  socialauth.Logger
	observe func(error)
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger socialauth.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOutcomeObserver is called once per run with the final error, nil on
// success.
func WithOutcomeObserver(fn func(error)) RunnerOption {
	return func(r *Runner) {
		r.observe = fn
	}
}

func NewRunner(steps []Step, opts ...RunnerOption) *Runner {
	r := &Runner{
		steps:  append([]Step(nil), steps...),
		logger: socialauth.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Steps returns the step names in execution order.
func (r *Runner) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline for hc. StopPipeline from a step ends the run
// successfully. Every other error is returned classified as an outcome.
func (r *Runner) Run(ctx context.Context, hc *Context) (*Result, error) {
	if hc == nil {
		return nil, socialauth.MalformedData("context", errors.New("handshake context is required"))
	}
	if hc.Backend == "" {
		return nil, r.finish(socialauth.MalformedData("backend", errors.New("backend is required")))
	}

	res := &Result{Context: hc}
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return res, r.finish(socialauth.Classify(hc.Backend, err))
		}

		res.Executed = append(res.Executed, step.Name())
		err := step.Run(ctx, hc)
		if err == nil {
			continue
		}

		if socialauth.IsKind(err, socialauth.KindStopPipeline) {
			r.logger.Debug("pipeline %s stopped at %s", hc.Backend, step.Name())
			res.StoppedAt = step.Name()
			return res, r.finish(nil)
		}

		err = socialauth.Classify(hc.Backend, err)
		r.logger.Error("pipeline %s step %s: %v", hc.Backend, step.Name(), err)
		return res, r.finish(fmt.Errorf("%s: %w", step.Name(), err))
	}
	return res, r.finish(nil)
}

func (r *Runner) finish(err error) error {
	if r.observe != nil {
		r.observe(err)
	}
	return err
}
