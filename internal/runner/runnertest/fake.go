// Package runnertest provides a recording in-memory runner.Runner.
package runnertest

import (
	"context"
	"sync"

	"github.com/eth-act/ere/internal/runner"
)

// Call is one recorded runner invocation.
type Call struct {
	Method string
	Target string
	Build  runner.BuildOptions
	Run    runner.RunOptions
	Stdin  []byte
}

// Fake is a Runner that records calls. Images and running containers are
// tracked in memory; the hook functions override default behavior.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	images  map[string]bool
	running map[string]bool
	procs   map[string]*runner.Process

	// Pullable lists images a pull makes available.
	Pullable map[string]bool

	BuildFunc     func(opts runner.BuildOptions) error
	PullFunc      func(image string) error
	SpawnFunc     func(opts runner.RunOptions, stdin []byte) error
	RunFunc       func(opts runner.RunOptions) error
	IsRunningFunc func(name string) (bool, error)
	StopFunc      func(name string) error
}

var _ runner.Runner = (*Fake)(nil)

// New returns a Fake with the given images present locally.
func New(images ...string) *Fake {
	f := &Fake{
		images:   make(map[string]bool),
		running:  make(map[string]bool),
		procs:    make(map[string]*runner.Process),
		Pullable: make(map[string]bool),
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// HasImage reports whether image is present.
func (f *Fake) HasImage(image string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image]
}

// SetRunning marks a container as running or stopped.
func (f *Fake) SetRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = running
}

// Process returns the process of a spawned container, or nil.
func (f *Fake) Process(name string) *runner.Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[name]
}

// Exit simulates the spawned container client exiting with err.
func (f *Fake) Exit(name string, err error) {
	f.mu.Lock()
	proc := f.procs[name]
	f.running[name] = false
	f.mu.Unlock()
	if proc != nil {
		proc.Exit(err)
	}
}

func (f *Fake) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "ImageExists", Target: image})
	return f.images[image], nil
}

func (f *Fake) PullImage(_ context.Context, image string) error {
	f.mu.Lock()
	f.record(Call{Method: "PullImage", Target: image})
	hook := f.PullFunc
	f.mu.Unlock()

	if hook != nil {
		if err := hook(image); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Pullable[image] {
		f.images[image] = true
	}
	return nil
}

func (f *Fake) BuildImage(_ context.Context, opts runner.BuildOptions) error {
	f.mu.Lock()
	f.record(Call{Method: "BuildImage", Target: opts.Tag, Build: opts})
	hook := f.BuildFunc
	f.mu.Unlock()

	if hook != nil {
		if err := hook(opts); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[opts.Tag] = true
	return nil
}

func (f *Fake) Spawn(_ context.Context, opts runner.RunOptions, stdin []byte) (*runner.Process, error) {
	f.mu.Lock()
	f.record(Call{Method: "Spawn", Target: opts.Name, Run: opts, Stdin: append([]byte(nil), stdin...)})
	hook := f.SpawnFunc
	f.mu.Unlock()

	if hook != nil {
		if err := hook(opts, stdin); err != nil {
			return nil, err
		}
	}

	proc := runner.NewProcess()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[opts.Name] = true
	f.procs[opts.Name] = proc
	return proc, nil
}

func (f *Fake) Run(_ context.Context, opts runner.RunOptions) error {
	f.mu.Lock()
	f.record(Call{Method: "Run", Target: opts.Name, Run: opts})
	hook := f.RunFunc
	f.mu.Unlock()

	if hook != nil {
		return hook(opts)
	}
	return nil
}

func (f *Fake) IsRunning(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	f.record(Call{Method: "IsRunning", Target: name})
	hook := f.IsRunningFunc
	running := f.running[name]
	f.mu.Unlock()

	if hook != nil {
		return hook(name)
	}
	return running, nil
}

func (f *Fake) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	f.record(Call{Method: "Stop", Target: name})
	hook := f.StopFunc
	proc := f.procs[name]
	f.running[name] = false
	delete(f.procs, name)
	f.mu.Unlock()

	if proc != nil {
		proc.Exit(nil)
	}
	if hook != nil {
		return hook(name)
	}
	return nil
}
