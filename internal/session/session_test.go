package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/rpc"
	"github.com/eth-act/ere/internal/runner"
	"github.com/eth-act/ere/internal/runner/runnertest"
)

var testProgram = model.SerializedProgram{0x01, 0x02}

// listenFor reserves a loopback port and returns the listener with the port
// offset that maps kind onto it.
func listenFor(t *testing.T, kind model.BackendKind) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, port - int(kind)
}

// serveEcho runs an RPC server backed by Echo on ln until the test ends.
func serveEcho(t *testing.T, ln net.Listener) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := rpc.NewServer(&backend.Echo{Program: testProgram}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newTestLauncher(t *testing.T, f *runnertest.Fake, opts Options) *Launcher {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	images := image.NewBuilder(f, image.Options{Version: "test"}, logger)
	if opts.HealthInterval == 0 {
		opts.HealthInterval = 10 * time.Millisecond
	}
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	opts.LookupEnv = envLookup(nil)
	return NewLauncher(f, images, opts, logger)
}

func TestOpenHealthy(t *testing.T) {
	ln, offset := listenFor(t, model.SP1)
	serveEcho(t, ln)
	f := runnertest.New()
	l := newTestLauncher(t, f, Options{PortOffset: offset})

	sess, err := l.Open(context.Background(), model.SP1, model.CPU(), testProgram)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer sess.Close(context.Background())

	spawns := f.CallsTo("Spawn")
	if len(spawns) != 1 {
		t.Fatalf("Spawn calls = %d, want 1", len(spawns))
	}
	if string(spawns[0].Stdin) != string(testProgram) {
		t.Errorf("stdin = %v, want the program", spawns[0].Stdin)
	}
	if spawns[0].Run.Image != "ere-server-sp1:test" {
		t.Errorf("image = %q", spawns[0].Run.Image)
	}
	if sess.Name != ContainerName(model.SP1, offset+int(model.SP1)) {
		t.Errorf("Name = %q", sess.Name)
	}
	if sess.Info.Name != "echo" {
		t.Errorf("Info.Name = %q, want echo", sess.Info.Name)
	}
	if sess.ID == "" {
		t.Error("session ID is empty")
	}

	pv, _, err := sess.Client.Execute(context.Background(), model.NewInput([]byte("hi")))
	if err != nil {
		t.Fatalf("Execute() through session error: %v", err)
	}
	if string(pv) != "hi" {
		t.Errorf("public values = %q", pv)
	}
}

func TestOpenStopsStaleContainer(t *testing.T) {
	ln, offset := listenFor(t, model.Zisk)
	serveEcho(t, ln)
	f := runnertest.New()
	name := ContainerName(model.Zisk, offset+int(model.Zisk))
	f.SetRunning(name, true)
	l := newTestLauncher(t, f, Options{PortOffset: offset})

	sess, err := l.Open(context.Background(), model.Zisk, model.CPU(), testProgram)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer sess.Close(context.Background())

	calls := f.Calls()
	stopIdx, spawnIdx := -1, -1
	for i, c := range calls {
		switch {
		case c.Method == "Stop" && c.Target == name && stopIdx < 0:
			stopIdx = i
		case c.Method == "Spawn":
			spawnIdx = i
		}
	}
	if stopIdx < 0 || spawnIdx < 0 || stopIdx > spawnIdx {
		t.Errorf("want stale Stop before Spawn, got calls %+v", calls)
	}
}

func TestOpenHealthTimeoutStopsContainer(t *testing.T) {
	ln, offset := listenFor(t, model.Risc0)
	ln.Close()
	f := runnertest.New()
	tmp := t.TempDir()
	l := newTestLauncher(t, f, Options{PortOffset: offset, HealthTimeout: 100 * time.Millisecond, TempDir: tmp})

	sess, err := l.Open(context.Background(), model.Risc0, model.CPU(), testProgram)

	if sess != nil {
		t.Fatal("Open() returned a session for an unhealthy server")
	}
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Open() error = %v, want *LaunchError", err)
	}
	if !errors.Is(err, ErrConnectionTimeout) {
		t.Errorf("Open() error = %v, want ErrConnectionTimeout", err)
	}

	name := ContainerName(model.Risc0, offset+int(model.Risc0))
	stopped := false
	for _, c := range f.CallsTo("Stop") {
		if c.Target == name {
			stopped = true
		}
	}
	if !stopped {
		t.Error("unhealthy container was not stopped")
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir left behind: %v", entries)
	}
}

func TestOpenEarlyExit(t *testing.T) {
	ln, offset := listenFor(t, model.SP1)
	ln.Close()
	f := runnertest.New()
	name := ContainerName(model.SP1, offset+int(model.SP1))
	exitErr := errors.New("exit status 125")
	go func() {
		for {
			if proc := f.Process(name); proc != nil {
				proc.Exit(exitErr)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	l := newTestLauncher(t, f, Options{PortOffset: offset, HealthTimeout: time.Minute})

	start := time.Now()
	_, err := l.Open(context.Background(), model.SP1, model.CPU(), testProgram)

	if !errors.Is(err, ErrExited) {
		t.Fatalf("Open() error = %v, want ErrExited", err)
	}
	if !errors.Is(err, exitErr) {
		t.Errorf("Open() error = %v, want it to carry the exit error", err)
	}
	if errors.Is(err, ErrConnectionTimeout) {
		t.Error("early exit reported as timeout")
	}
	if time.Since(start) > 30*time.Second {
		t.Error("Open() waited for the health timeout after the process exited")
	}
}

func TestOpenSpawnFailure(t *testing.T) {
	f := runnertest.New()
	f.SpawnFunc = func(_ runner.RunOptions, _ []byte) error { return errors.New("no such image") }
	l := newTestLauncher(t, f, Options{})

	_, err := l.Open(context.Background(), model.Airbender, model.CPU(), testProgram)

	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Open() error = %v, want *LaunchError", err)
	}
}

func TestOpenStopsContainerWhenProgramDeliveryFails(t *testing.T) {
	f := runnertest.New()
	f.SpawnFunc = func(_ runner.RunOptions, _ []byte) error {
		return fmt.Errorf("write program to stdin: %w", context.DeadlineExceeded)
	}
	tmp := t.TempDir()
	l := newTestLauncher(t, f, Options{TempDir: tmp})

	_, err := l.Open(context.Background(), model.SP1, model.CPU(), testProgram)

	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Open() error = %v, want *LaunchError", err)
	}
	name := ContainerName(model.SP1, l.Port(model.SP1))
	stopped := false
	for _, c := range f.CallsTo("Stop") {
		if c.Target == name {
			stopped = true
		}
	}
	if !stopped {
		t.Errorf("container %s was not stopped after a failed spawn", name)
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir left behind: %v", entries)
	}
}

func TestOpenRejectsInvalidResource(t *testing.T) {
	f := runnertest.New()
	l := newTestLauncher(t, f, Options{})

	_, err := l.Open(context.Background(), model.SP1, model.Network("", ""), testProgram)

	if !errors.Is(err, model.ErrMissingEndpoint) {
		t.Fatalf("Open() error = %v, want ErrMissingEndpoint", err)
	}
	if n := len(f.CallsTo("Spawn")); n != 0 {
		t.Errorf("Spawn calls = %d, want 0", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ln, offset := listenFor(t, model.Risc0)
	serveEcho(t, ln)
	f := runnertest.New()
	tmp := t.TempDir()
	l := newTestLauncher(t, f, Options{PortOffset: offset, TempDir: tmp})

	sess, err := l.Open(context.Background(), model.Risc0, model.CPU(), testProgram)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if sess.scratch == "" {
		t.Fatal("risc0 session has no scratch dir")
	}
	f.StopFunc = func(string) error { return errors.New("daemon gone") }

	sess.Close(context.Background())
	sess.Close(context.Background())

	if n := len(f.CallsTo("Stop")); n != 1 {
		t.Errorf("Stop calls = %d, want 1", n)
	}
	if _, err := os.Stat(sess.scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir still present: %v", err)
	}
	select {
	case <-sess.Exited():
	default:
		t.Error("session process not marked exited after Close")
	}
}
