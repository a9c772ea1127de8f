// Package e2e drives the testserver binary as a real process: directly over
// the RPC protocol, and through a gateway whose runner starts the binary in
// place of a container.
package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/rpc"
	"github.com/eth-act/ere/internal/runner"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "ere-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func waitHealthy(t *testing.T, client *rpc.Client, out *lockedBuffer) {
	t.Helper()
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if client.Health(context.Background()) == nil {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become healthy within %v\noutput:\n%s", startupTimeout, out.String())
}

// localRunner implements runner.Runner by starting the testserver binary
// directly. Every image exists and containers are tracked by name.
type localRunner struct {
	binary string
	out    *lockedBuffer

	mu    sync.Mutex
	procs map[string]*localProc
	spawn int
}

type localProc struct {
	cmd  *exec.Cmd
	proc *runner.Process
}

var _ runner.Runner = (*localRunner)(nil)

func newLocalRunner(binary string) *localRunner {
	return &localRunner{binary: binary, out: &lockedBuffer{}, procs: make(map[string]*localProc)}
}

func (r *localRunner) ImageExists(context.Context, string) (bool, error) { return true, nil }

func (r *localRunner) PullImage(context.Context, string) error { return nil }

func (r *localRunner) BuildImage(context.Context, runner.BuildOptions) error { return nil }

func (r *localRunner) Run(context.Context, runner.RunOptions) error {
	return fmt.Errorf("localRunner: Run is not supported")
}

// Spawn starts the binary with the container arguments, which name the
// backend kind and the port.
func (r *localRunner) Spawn(_ context.Context, opts runner.RunOptions, stdin []byte) (*runner.Process, error) {
	cmd := exec.Command(r.binary, opts.Args...)
	cmd.Env = append(os.Environ(), "ERE_LOG_LEVEL=debug")
	for _, e := range opts.Env {
		cmd.Env = append(cmd.Env, e.Key+"="+e.Value)
	}
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = r.out
	cmd.Stderr = r.out
	if err := cmd.Start(); err != nil {
		return nil, &runner.CommandError{Command: r.binary, ExitCode: -1, Err: err}
	}

	proc := runner.NewProcess()
	go func() { proc.Exit(cmd.Wait()) }()

	r.mu.Lock()
	r.procs[opts.Name] = &localProc{cmd: cmd, proc: proc}
	r.spawn++
	r.mu.Unlock()
	return proc, nil
}

func (r *localRunner) IsRunning(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	p, ok := r.procs[name]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	select {
	case <-p.proc.Done():
		return false, nil
	default:
		return true, nil
	}
}

func (r *localRunner) Stop(_ context.Context, name string) error {
	return r.signal(name, syscall.SIGTERM)
}

// kill terminates a server without a graceful shutdown, like a crashed
// container.
func (r *localRunner) kill(name string) error {
	return r.signal(name, syscall.SIGKILL)
}

func (r *localRunner) signal(name string, sig syscall.Signal) error {
	r.mu.Lock()
	p, ok := r.procs[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-p.proc.Done():
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		return err
	}
	select {
	case <-p.proc.Done():
		return nil
	case <-time.After(startupTimeout):
		return fmt.Errorf("%s did not exit after %s", name, sig)
	}
}

func (r *localRunner) spawns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spawn
}

func (r *localRunner) stopAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		r.kill(name)
	}
}

// startServer runs the binary directly with program on stdin.
func startServer(t *testing.T, kind model.BackendKind, program []byte, extraArgs ...string) (*exec.Cmd, *rpc.Client, *lockedBuffer) {
	t.Helper()
	binary := getBinary(t)
	port := freePort(t)

	out := &lockedBuffer{}
	args := append([]string{"--backend", kind.String(), "--host", "127.0.0.1", "--port", strconv.Itoa(port)}, extraArgs...)
	cmd := exec.Command(binary, args...)
	cmd.Stdin = bytes.NewReader(program)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	client := rpc.NewClient("http://127.0.0.1:"+strconv.Itoa(port), nil)
	waitHealthy(t, client, out)
	return cmd, client, out
}
