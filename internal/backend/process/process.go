// Package process implements backend.Backend on top of a backend-native
// executable. Each call runs the executable once, so a crash in the native
// SDK surfaces as an error instead of taking the server down.
//
// The executable is invoked as
//
//	<bin> <execute|prove|verify> --program <path> <resource args...>
//
// with a JSON request on stdin. It writes a JSON response on stdout and
// exits 0, or writes {"error": "..."} and exits non-zero. `<bin> version`
// prints the SDK version.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
)

// EnvBin overrides the executable path.
const EnvBin = "ERE_BACKEND_BIN"

const (
	defaultBinDir  = "/usr/local/bin"
	versionTimeout = 10 * time.Second
	maxStderrTail  = 4 << 10
)

// DefaultBin returns the default executable for kind.
func DefaultBin(kind model.BackendKind) string {
	return filepath.Join(defaultBinDir, "ere-"+kind.String())
}

type request struct {
	Stdin     []byte `json:"stdin,omitempty"`
	Proofs    []byte `json:"proofs,omitempty"`
	ProofKind *int   `json:"proof_kind,omitempty"`
	Proof     []byte `json:"proof,omitempty"`
}

type response struct {
	PublicValues []byte `json:"public_values"`
	Proof        []byte `json:"proof,omitempty"`
	Report       []byte `json:"report,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Options configures a Backend.
type Options struct {
	// Bin is the executable. Empty means $ERE_BACKEND_BIN or DefaultBin.
	Bin string
	// WorkDir holds the program file. Empty uses os.TempDir.
	WorkDir string
	Logger  *slog.Logger
}

// Backend runs a native executable per call.
type Backend struct {
	kind    model.BackendKind
	bin     string
	program string
	res     model.Resource
	version string
	logger  *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New writes program to the work dir and queries the executable version.
func New(kind model.BackendKind, res model.Resource, program model.SerializedProgram, opts Options) (*Backend, error) {
	bin := opts.Bin
	if bin == "" {
		bin = os.Getenv(EnvBin)
	}
	if bin == "" {
		bin = DefaultBin(kind)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.CreateTemp(opts.WorkDir, "ere-"+kind.String()+"-program-")
	if err != nil {
		return nil, fmt.Errorf("create program file: %w", err)
	}
	if _, err := f.Write(program); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write program file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close program file: %w", err)
	}

	b := &Backend{
		kind:    kind,
		bin:     bin,
		program: f.Name(),
		res:     res,
		logger:  logger.With("backend", kind.String()),
	}
	b.version = b.detectVersion()
	return b, nil
}

// Factory returns a backend.Factory creating process backends for kind.
func Factory(kind model.BackendKind, opts Options) backend.Factory {
	return func(res model.Resource, program model.SerializedProgram) (backend.Backend, error) {
		return New(kind, res, program, opts)
	}
}

// Close removes the program file.
func (b *Backend) Close() error {
	return os.Remove(b.program)
}

func (b *Backend) Name() string { return b.kind.String() }

func (b *Backend) SDKVersion() string { return b.version }

func (b *Backend) Execute(ctx context.Context, in model.Input) (model.PublicValues, model.ExecutionReport, error) {
	resp, err := b.run(ctx, "execute", request{Stdin: in.Stdin, Proofs: in.Proofs})
	if err != nil {
		return nil, model.ExecutionReport{}, err
	}
	report, err := model.DecodeExecutionReport(resp.Report)
	if err != nil {
		return nil, model.ExecutionReport{}, fmt.Errorf("decode execution report: %w", err)
	}
	return resp.PublicValues, report, nil
}

func (b *Backend) Prove(ctx context.Context, in model.Input, kind model.ProofKind) (model.PublicValues, model.Proof, model.ProvingReport, error) {
	pk := int(kind)
	resp, err := b.run(ctx, "prove", request{Stdin: in.Stdin, Proofs: in.Proofs, ProofKind: &pk})
	if err != nil {
		return nil, model.Proof{}, model.ProvingReport{}, err
	}
	report, err := model.DecodeProvingReport(resp.Report)
	if err != nil {
		return nil, model.Proof{}, model.ProvingReport{}, fmt.Errorf("decode proving report: %w", err)
	}
	return resp.PublicValues, model.Proof{Kind: kind, Bytes: resp.Proof}, report, nil
}

func (b *Backend) Verify(ctx context.Context, proof model.Proof) (model.PublicValues, error) {
	pk := int(proof.Kind)
	resp, err := b.run(ctx, "verify", request{Proof: proof.Bytes, ProofKind: &pk})
	if err != nil {
		return nil, err
	}
	return resp.PublicValues, nil
}

// run invokes the executable for method and decodes its response.
func (b *Backend) run(ctx context.Context, method string, req request) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	args := append([]string{method, "--program", b.program}, b.res.Args()...)
	cmdline := b.bin + " " + strings.Join(args, " ")
	b.logger.Debug("running backend", "command", cmdline)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.bin, args...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	b.logger.Debug("backend finished", "method", method, "duration_ms", time.Since(start).Milliseconds())

	var resp response
	decodeErr := json.Unmarshal(stdout.Bytes(), &resp)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if decodeErr == nil && resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return nil, b.failure(cmdline, stderr.String(), runErr)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s %s: decode output: %w", b.kind, method, decodeErr)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// failure describes an abnormal exit, naming the signal of a crash.
func (b *Backend) failure(cmdline, stderr string, err error) error {
	if len(stderr) > maxStderrTail {
		stderr = stderr[len(stderr)-maxStderrTail:]
	}
	cerr := &runner.CommandError{Command: cmdline, ExitCode: -1, Output: stderr, Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return fmt.Errorf("%s crashed with signal %s: %w", b.kind, ws.Signal(), cerr)
		}
	}
	return cerr
}

func (b *Backend) detectVersion() string {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, b.bin, "version").Output()
	if err != nil {
		b.logger.Warn("detect backend version failed", "bin", b.bin, "error", err)
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
