package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// maxOutputTail bounds how much command output is kept for error reports.
	maxOutputTail = 4 << 10
	// spawnWaitDelay bounds how long a finished docker client's output is
	// drained when a child it left behind still holds the pipe.
	spawnWaitDelay = time.Second
)

// Compile-time interface satisfaction check.
var _ Runner = (*Docker)(nil)

// Docker implements Runner with the docker CLI.
type Docker struct {
	bin    string
	out    io.Writer
	logger *slog.Logger
}

// NewDocker returns a Runner that invokes bin. Build and container output is
// copied to out; a nil out means os.Stderr.
func NewDocker(bin string, out io.Writer, logger *slog.Logger) *Docker {
	if bin == "" {
		bin = "docker"
	}
	if out == nil {
		out = os.Stderr
	}
	return &Docker{bin: bin, out: out, logger: logger}
}

// ImageExists reports whether image is present locally.
func (d *Docker) ImageExists(ctx context.Context, image string) (bool, error) {
	out, err := d.output(ctx, "images", "--quiet", image)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

// PullImage pulls image from its registry.
func (d *Docker) PullImage(ctx context.Context, image string) error {
	return d.stream(ctx, "pull", image)
}

// BuildImage builds opts.Tag from opts.File.
func (d *Docker) BuildImage(ctx context.Context, opts BuildOptions) error {
	return d.stream(ctx, opts.args()...)
}

// Run runs a container to completion.
func (d *Docker) Run(ctx context.Context, opts RunOptions) error {
	return d.stream(ctx, opts.args(false)...)
}

// Spawn starts an interactive container in the background. The child is not
// bound to ctx: it lives until the container stops.
func (d *Docker) Spawn(ctx context.Context, opts RunOptions, stdin []byte) (*Process, error) {
	args := opts.args(true)
	cmdline := d.cmdline(args)
	d.logger.Debug("docker spawn", "command", cmdline)

	cmd := exec.Command(d.bin, args...)
	cmd.Stdout = d.out
	cmd.Stderr = d.out
	cmd.WaitDelay = spawnWaitDelay
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Command: cmdline, ExitCode: -1, Err: err}
	}

	proc := NewProcess()
	go func() {
		proc.Exit(cmd.Wait())
	}()

	writeErr := writeAll(ctx, pipe, stdin)
	if closeErr := pipe.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		if err := cmd.Process.Kill(); err != nil {
			d.logger.Warn("kill spawned container client", "command", cmdline, "error", err)
		}
		<-proc.Done()
		return nil, fmt.Errorf("write program to %s stdin: %w", opts.Name, writeErr)
	}

	return proc, nil
}

// IsRunning reports whether a container named exactly name is running.
func (d *Docker) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := d.output(ctx, "ps", "--filter", "name="+name, "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// Stop stops the named container.
func (d *Docker) Stop(ctx context.Context, name string) error {
	_, err := d.output(ctx, "container", "stop", name)
	return err
}

// output runs a short command and returns its stdout.
func (d *Docker) output(ctx context.Context, args ...string) ([]byte, error) {
	cmdline := d.cmdline(args)
	d.logger.Debug("docker", "command", cmdline)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, commandError(cmdline, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// stream runs a long command, copying its output and keeping a tail for
// error reports.
func (d *Docker) stream(ctx context.Context, args ...string) error {
	cmdline := d.cmdline(args)
	d.logger.Debug("docker", "command", cmdline)

	tail := &tailBuffer{max: maxOutputTail}
	w := io.MultiWriter(d.out, tail)
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return commandError(cmdline, tail.String(), err)
	}
	return nil
}

func (d *Docker) cmdline(args []string) string {
	return d.bin + " " + strings.Join(args, " ")
}

func commandError(cmdline, output string, err error) *CommandError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{Command: cmdline, ExitCode: code, Output: output, Err: err}
}

func writeAll(ctx context.Context, w io.Writer, data []byte) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := w.Write(data)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
