package runner

import (
	"context"
	"sync"
)

// Recorder is a Runner that records every command instead of executing it.
// Responses are looked up by command name; unknown names succeed with exit
// code zero.
type Recorder struct {
	mu        sync.Mutex
	calls     []Command
	responses map[string]Response
	handler   func(Command) (Result, error)
}

// Response is a canned result for Recorder.
type Response struct {
	Result Result
	Err    error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string]Response)}
}

// Respond registers the response for commands named name.
func (r *Recorder) Respond(name string, res Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[name] = Response{Result: res, Err: err}
}

// Handle installs fn to answer every command, overriding Respond.
func (r *Recorder) Handle(fn func(Command) (Result, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Run records cmd and returns the registered response.
func (r *Recorder) Run(ctx context.Context, cmd Command) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if r.handler != nil {
		return r.handler(cmd)
	}
	if resp, ok := r.responses[cmd.Name]; ok {
		return resp.Result, resp.Err
	}
	return Result{}, nil
}

// Calls returns a copy of the recorded commands.
func (r *Recorder) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.calls))
	copy(out, r.calls)
	return out
}
