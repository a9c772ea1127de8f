// Package compiler compiles guest programs inside a backend's compiler
// image.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
)

const (
	guestMount  = "/guest"
	outputMount = "/output"
	programFile = "program"
)

// ErrGuestOutsideMount is returned when the guest directory is not inside
// the mounted directory.
var ErrGuestOutsideMount = errors.New("guest directory is not inside the mount directory")

// inheritEnv is forwarded to every compiler container when set.
var inheritEnv = []string{"RUST_LOG", "NO_COLOR", "ERE_RUST_TOOLCHAIN"}

// Kind selects the toolchain used to compile a guest.
type Kind string

const (
	Rust           Kind = "rust"
	RustCustomized Kind = "rust-customized"
	GoCustomized   Kind = "go-customized"
	MidenAsm       Kind = "miden-asm"
)

// ParseKind parses a compiler kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Rust, RustCustomized, GoCustomized, MidenAsm:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported compiler kind %q, expect one of [rust, rust-customized, go-customized, miden-asm]", s)
	}
}

// ImageEnsurer makes sure a compiler image exists. *image.Builder
// implements it.
type ImageEnsurer interface {
	EnsureCompilerImage(ctx context.Context, kind model.BackendKind) (string, error)
}

// Options configures a Compiler.
type Options struct {
	Backend model.BackendKind
	Kind    Kind
	// MountDir is mounted into the container; guests must live below it.
	MountDir string
	Images   ImageEnsurer
	Runner   runner.Runner
	// TempDir is the parent of output dirs. Empty uses os.TempDir.
	TempDir   string
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

// Compiler runs a backend's compiler image.
type Compiler struct {
	backend   model.BackendKind
	kind      Kind
	mountDir  string
	image     string
	runner    runner.Runner
	tempDir   string
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// New ensures the compiler image for opts.Backend exists.
func New(ctx context.Context, opts Options) (*Compiler, error) {
	mountDir, err := filepath.Abs(opts.MountDir)
	if err != nil {
		return nil, fmt.Errorf("resolve mount directory: %w", err)
	}
	img, err := opts.Images.EnsureCompilerImage(ctx, opts.Backend)
	if err != nil {
		return nil, fmt.Errorf("ensure %s compiler image: %w", opts.Backend, err)
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Compiler{
		backend:   opts.Backend,
		kind:      opts.Kind,
		mountDir:  mountDir,
		image:     img,
		runner:    opts.Runner,
		tempDir:   opts.TempDir,
		lookupEnv: lookup,
		logger:    opts.Logger,
	}, nil
}

// Image returns the compiler image name.
func (c *Compiler) Image() string {
	return c.image
}

// Compile compiles the guest in guestDir and returns the program.
func (c *Compiler) Compile(ctx context.Context, guestDir string) (model.SerializedProgram, error) {
	guestPath, err := c.containerPath(guestDir)
	if err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp(c.tempDir, "ere-compile-")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			c.logger.Warn("remove output dir failed", "dir", outDir, "error", err)
		}
	}()

	run := runner.RunOptions{
		Image:   c.image,
		Remove:  true,
		Volumes: []string{runner.Volume(c.mountDir, guestMount), runner.Volume(outDir, outputMount)},
		Env:     c.env(),
		Args: []string{
			"--compiler-kind", string(c.kind),
			"--guest-path", guestPath,
			"--output-path", path.Join(outputMount, programFile),
		},
	}

	c.logger.Info("compiling guest", "backend", c.backend.String(), "compiler", string(c.kind), "guest", guestDir)
	if err := c.runner.Run(ctx, run); err != nil {
		return nil, fmt.Errorf("compile %s: %w", guestDir, err)
	}

	program, err := os.ReadFile(filepath.Join(outDir, programFile))
	if err != nil {
		return nil, fmt.Errorf("read compiled program: %w", err)
	}
	return program, nil
}

// containerPath maps guestDir to its path inside the container.
func (c *Compiler) containerPath(guestDir string) (string, error) {
	abs, err := filepath.Abs(guestDir)
	if err != nil {
		return "", fmt.Errorf("resolve guest directory: %w", err)
	}
	rel, err := filepath.Rel(c.mountDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s not in %s", ErrGuestOutsideMount, guestDir, c.mountDir)
	}
	return path.Join(guestMount, filepath.ToSlash(rel)), nil
}

func (c *Compiler) env() []runner.Arg {
	names := append(append([]string(nil), inheritEnv...), c.backend.Profile().CompilerInheritEnv...)
	var env []runner.Arg
	for _, name := range names {
		if v, ok := c.lookupEnv(name); ok {
			env = append(env, runner.Arg{Key: name, Value: v})
		}
	}
	return env
}
