// Package image builds and caches the container images a backend needs.
//
// Server images are built as a chain of three stages: a generic base, a
// backend base carrying the native SDK, and the server image carrying the
// RPC server binary. Each stage is checked independently so an interrupted
// chain resumes where it stopped.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
)

// Stage names one step of an image chain.
type Stage string

const (
	StageBase        Stage = "base"
	StageBackendBase Stage = "backend-base"
	StageServer      Stage = "server"
	StageCompiler    Stage = "compiler"
)

const cudaSuffix = "-cuda"

// BuildError reports a failed stage. Err is usually a *runner.CommandError.
type BuildError struct {
	Stage Stage
	Image string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s image %s: %v", e.Stage, e.Image, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Tags are the image names of a server chain.
type Tags struct {
	Base        string
	BackendBase string
	Server      string
}

// Options configures a Builder.
type Options struct {
	// Registry is prepended to every image name and used as a pull source.
	Registry     string
	Version      string
	WorkspaceDir string
	ForceRebuild bool
	// BuildArgs are forwarded to backend-base and server builds.
	BuildArgs map[string]string
	// Archs returns the CUDA architectures for GPU builds. It may be nil.
	Archs func(ctx context.Context) []int
}

// Builder ensures images exist, pulling or building them as needed.
type Builder struct {
	runner runner.Runner
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a Builder that drives r.
func NewBuilder(r runner.Runner, opts Options, logger *slog.Logger) *Builder {
	return &Builder{runner: r, opts: opts, logger: logger}
}

func (b *Builder) name(repo, tag string) string {
	img := repo + ":" + tag
	if b.opts.Registry != "" {
		return b.opts.Registry + "/" + img
	}
	return img
}

func (b *Builder) tag(kind model.BackendKind, gpu bool) string {
	if gpu && kind.Profile().CUDABase {
		return b.opts.Version + cudaSuffix
	}
	return b.opts.Version
}

// ServerTags returns the image names of the server chain for kind.
func (b *Builder) ServerTags(kind model.BackendKind, res model.Resource) Tags {
	tag := b.tag(kind, res.IsGPU())
	return Tags{
		Base:        b.name("ere-base", tag),
		BackendBase: b.name("ere-base-"+kind.String(), tag),
		Server:      b.name("ere-server-"+kind.String(), tag),
	}
}

// CompilerImage returns the compiler image name for kind.
func (b *Builder) CompilerImage(kind model.BackendKind) string {
	return b.name("ere-compiler-"+kind.String(), b.tag(kind, false))
}

// EnsureServerImage makes sure every stage of the server chain for kind
// exists locally. Stages run strictly in order; the first failure aborts
// the chain.
func (b *Builder) EnsureServerImage(ctx context.Context, kind model.BackendKind, res model.Resource) (Tags, error) {
	gpu := res.IsGPU()
	tags := b.ServerTags(kind, res)

	if err := b.ensureBase(ctx, kind, tags, gpu); err != nil {
		return Tags{}, err
	}

	serverArgs := []runner.Arg{{Key: "BASE_ZKVM_IMAGE", Value: tags.BackendBase}}
	serverArgs = append(serverArgs, b.envArgs()...)
	if gpu {
		serverArgs = append(serverArgs, runner.Arg{Key: "CUDA", Value: "1"})
	}
	if err := b.ensure(ctx, StageServer, runner.BuildOptions{
		File:      b.dockerfile(kind, "Dockerfile.server"),
		Tag:       tags.Server,
		BuildArgs: serverArgs,
		Context:   b.opts.WorkspaceDir,
	}); err != nil {
		return Tags{}, err
	}

	return tags, nil
}

// EnsureCompilerImage makes sure the compiler image for kind exists. The
// CPU flavor of the base chain is built first when needed.
func (b *Builder) EnsureCompilerImage(ctx context.Context, kind model.BackendKind) (string, error) {
	compiler := b.CompilerImage(kind)
	if !b.opts.ForceRebuild {
		ok, err := b.runner.ImageExists(ctx, compiler)
		if err != nil {
			return "", &BuildError{Stage: StageCompiler, Image: compiler, Err: err}
		}
		if ok {
			return compiler, nil
		}
	}

	tags := b.ServerTags(kind, model.CPU())
	if err := b.ensureBase(ctx, kind, tags, false); err != nil {
		return "", err
	}

	if err := b.ensure(ctx, StageCompiler, runner.BuildOptions{
		File:      b.dockerfile(kind, "Dockerfile.compiler"),
		Tag:       compiler,
		BuildArgs: []runner.Arg{{Key: "BASE_ZKVM_IMAGE", Value: tags.BackendBase}},
		Context:   b.opts.WorkspaceDir,
	}); err != nil {
		return "", err
	}
	return compiler, nil
}

// ensureBase ensures the generic base and the backend base stages.
func (b *Builder) ensureBase(ctx context.Context, kind model.BackendKind, tags Tags, gpu bool) error {
	var baseArgs []runner.Arg
	if gpu {
		baseArgs = append(baseArgs, runner.Arg{Key: "CUDA", Value: "1"})
	}
	if err := b.ensure(ctx, StageBase, runner.BuildOptions{
		File:      filepath.Join(b.opts.WorkspaceDir, "docker", "Dockerfile.base"),
		Tag:       tags.Base,
		BuildArgs: baseArgs,
		Context:   b.opts.WorkspaceDir,
	}); err != nil {
		return err
	}

	backendArgs := []runner.Arg{{Key: "BASE_IMAGE", Value: tags.Base}}
	backendArgs = append(backendArgs, b.envArgs()...)
	if gpu {
		backendArgs = append(backendArgs, runner.Arg{Key: "CUDA", Value: "1"})
		if arch := b.archArg(ctx, kind); arch != nil {
			backendArgs = append(backendArgs, *arch)
		}
	}
	return b.ensure(ctx, StageBackendBase, runner.BuildOptions{
		File:      b.dockerfile(kind, "Dockerfile.base"),
		Tag:       tags.BackendBase,
		BuildArgs: backendArgs,
		Context:   b.opts.WorkspaceDir,
	})
}

// ensure pulls a stage from the registry when one is configured, skips it
// when the image exists locally and rebuilds are not forced, and otherwise
// builds it.
func (b *Builder) ensure(ctx context.Context, stage Stage, opts runner.BuildOptions) error {
	img := opts.Tag
	if b.opts.Registry != "" && b.pull(ctx, stage, img) {
		imageBuildsTotal.WithLabelValues(string(stage), resultPulled).Inc()
		return nil
	}

	if !b.opts.ForceRebuild {
		ok, err := b.runner.ImageExists(ctx, img)
		if err != nil {
			imageBuildsTotal.WithLabelValues(string(stage), resultFailed).Inc()
			return &BuildError{Stage: stage, Image: img, Err: err}
		}
		if ok {
			imageBuildsTotal.WithLabelValues(string(stage), resultCached).Inc()
			b.logger.Debug("image present", "stage", stage, "image", img)
			return nil
		}
	}

	b.logger.Info("building image", "stage", stage, "image", img)
	if err := b.runner.BuildImage(ctx, opts); err != nil {
		imageBuildsTotal.WithLabelValues(string(stage), resultFailed).Inc()
		return &BuildError{Stage: stage, Image: img, Err: err}
	}
	imageBuildsTotal.WithLabelValues(string(stage), resultBuilt).Inc()
	return nil
}

// pull reports whether img is available after pulling it. Failures fall
// through to a local build.
func (b *Builder) pull(ctx context.Context, stage Stage, img string) bool {
	b.logger.Info("pulling image", "stage", stage, "image", img)
	if err := b.runner.PullImage(ctx, img); err != nil {
		b.logger.Warn("image pull failed, building locally", "stage", stage, "image", img, "error", err)
		return false
	}
	ok, err := b.runner.ImageExists(ctx, img)
	if err != nil {
		b.logger.Warn("image check after pull failed", "stage", stage, "image", img, "error", err)
		return false
	}
	return ok
}

func (b *Builder) dockerfile(kind model.BackendKind, name string) string {
	return filepath.Join(b.opts.WorkspaceDir, "docker", kind.String(), name)
}

// envArgs returns the configured environment build args in key order.
func (b *Builder) envArgs() []runner.Arg {
	keys := make([]string, 0, len(b.opts.BuildArgs))
	for k := range b.opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]runner.Arg, 0, len(keys))
	for _, k := range keys {
		args = append(args, runner.Arg{Key: k, Value: b.opts.BuildArgs[k]})
	}
	return args
}

func (b *Builder) archArg(ctx context.Context, kind model.BackendKind) *runner.Arg {
	p := kind.Profile()
	if p.ArchArg == "" || b.opts.Archs == nil {
		return nil
	}
	v := p.ArchFormat.Render(b.opts.Archs(ctx))
	if v == "" {
		return nil
	}
	return &runner.Arg{Key: p.ArchArg, Value: v}
}
