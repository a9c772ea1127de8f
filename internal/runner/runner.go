// Package runner wraps the container runtime CLI. Every operation shells
// out to the configured binary and reports failures as *CommandError.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Arg is an ordered key/value pair used for build arguments, environment
// variables and generic `--key value` options.
type Arg struct {
	Key   string
	Value string
}

// BuildOptions describes an image build from a Dockerfile.
type BuildOptions struct {
	File      string
	Tag       string
	BuildArgs []Arg
	Context   string
}

func (o BuildOptions) args() []string {
	args := []string{"build", "--file", o.File, "--tag", o.Tag}
	for _, a := range o.BuildArgs {
		args = append(args, "--build-arg", a.Key+"="+a.Value)
	}
	return append(args, o.Context)
}

// RunOptions describes a container run.
type RunOptions struct {
	Image   string
	Name    string
	Remove  bool
	Publish []string
	Volumes []string
	Env     []Arg
	Options []Arg
	Args    []string
}

// PublishPort formats a same-number host:container port mapping.
func PublishPort(port int) string {
	p := strconv.Itoa(port)
	return p + ":" + p
}

// Volume formats a host:container bind mount.
func Volume(host, container string) string {
	return host + ":" + container
}

func (o RunOptions) args(interactive bool) []string {
	args := []string{"run"}
	if o.Remove {
		args = append(args, "--rm")
	}
	if interactive {
		args = append(args, "--interactive")
	}
	if o.Name != "" {
		args = append(args, "--name", o.Name)
	}
	for _, p := range o.Publish {
		args = append(args, "--publish", p)
	}
	for _, v := range o.Volumes {
		args = append(args, "--volume", v)
	}
	for _, e := range o.Env {
		args = append(args, "--env", e.Key+"="+e.Value)
	}
	for _, opt := range o.Options {
		args = append(args, "--"+opt.Key, opt.Value)
	}
	args = append(args, o.Image)
	return append(args, o.Args...)
}

// Runner is the subset of container runtime operations the gateway needs.
type Runner interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) error
	BuildImage(ctx context.Context, opts BuildOptions) error
	// Spawn starts a long-lived interactive container, writes stdin in full
	// and closes it before returning. On error the named container may
	// still have been created; callers stop it by name.
	Spawn(ctx context.Context, opts RunOptions, stdin []byte) (*Process, error)
	// Run starts a container and waits for it to exit.
	Run(ctx context.Context, opts RunOptions) error
	IsRunning(ctx context.Context, name string) (bool, error)
	Stop(ctx context.Context, name string) error
}

// CommandError reports a failed runtime command.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Process is a spawned child whose exit can be observed.
type Process struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewProcess returns a Process that is still running.
func NewProcess() *Process {
	return &Process{done: make(chan struct{})}
}

// Exit records the exit of the process. Only the first call has effect.
func (p *Process) Exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error. It is only meaningful after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
