package image

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
	"github.com/eth-act/ere/internal/runner/runnertest"
)

func newTestBuilder(t *testing.T, fake *runnertest.Fake, opts Options) *Builder {
	t.Helper()
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	if opts.WorkspaceDir == "" {
		opts.WorkspaceDir = "/ws"
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewBuilder(fake, opts, logger)
}

func builtTags(fake *runnertest.Fake) []string {
	var tags []string
	for _, c := range fake.CallsTo("BuildImage") {
		tags = append(tags, c.Target)
	}
	return tags
}

func TestServerTags(t *testing.T) {
	tests := []struct {
		name     string
		registry string
		kind     model.BackendKind
		res      model.Resource
		want     Tags
	}{
		{
			name: "cpu",
			kind: model.SP1,
			res:  model.CPU(),
			want: Tags{"ere-base:0.1.0", "ere-base-sp1:0.1.0", "ere-server-sp1:0.1.0"},
		},
		{
			name: "gpu without cuda base",
			kind: model.SP1,
			res:  model.GPU(),
			want: Tags{"ere-base:0.1.0", "ere-base-sp1:0.1.0", "ere-server-sp1:0.1.0"},
		},
		{
			name: "gpu with cuda base",
			kind: model.Risc0,
			res:  model.GPU(),
			want: Tags{"ere-base:0.1.0-cuda", "ere-base-risc0:0.1.0-cuda", "ere-server-risc0:0.1.0-cuda"},
		},
		{
			name:     "registry",
			registry: "ghcr.io/eth-act/ere",
			kind:     model.Zisk,
			res:      model.CPU(),
			want: Tags{
				"ghcr.io/eth-act/ere/ere-base:0.1.0",
				"ghcr.io/eth-act/ere/ere-base-zisk:0.1.0",
				"ghcr.io/eth-act/ere/ere-server-zisk:0.1.0",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t, runnertest.New(), Options{Registry: tt.registry})
			if got := b.ServerTags(tt.kind, tt.res); got != tt.want {
				t.Errorf("ServerTags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEnsureServerImageBuildsChainInOrder(t *testing.T) {
	fake := runnertest.New()
	b := newTestBuilder(t, fake, Options{BuildArgs: map[string]string{"RUSTFLAGS": "-Copt-level=3"}})

	tags, err := b.EnsureServerImage(context.Background(), model.SP1, model.CPU())
	if err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}

	builds := fake.CallsTo("BuildImage")
	if len(builds) != 3 {
		t.Fatalf("builds = %d, want 3", len(builds))
	}

	want := []runner.BuildOptions{
		{
			File:    filepath.Join("/ws", "docker", "Dockerfile.base"),
			Tag:     tags.Base,
			Context: "/ws",
		},
		{
			File:      filepath.Join("/ws", "docker", "sp1", "Dockerfile.base"),
			Tag:       tags.BackendBase,
			BuildArgs: []runner.Arg{{Key: "BASE_IMAGE", Value: tags.Base}, {Key: "RUSTFLAGS", Value: "-Copt-level=3"}},
			Context:   "/ws",
		},
		{
			File:      filepath.Join("/ws", "docker", "sp1", "Dockerfile.server"),
			Tag:       tags.Server,
			BuildArgs: []runner.Arg{{Key: "BASE_ZKVM_IMAGE", Value: tags.BackendBase}, {Key: "RUSTFLAGS", Value: "-Copt-level=3"}},
			Context:   "/ws",
		},
	}
	for i := range want {
		if !reflect.DeepEqual(builds[i].Build, want[i]) {
			t.Errorf("build %d = %+v\nwant %+v", i, builds[i].Build, want[i])
		}
	}
}

func TestEnsureServerImageIsCached(t *testing.T) {
	fake := runnertest.New()
	b := newTestBuilder(t, fake, Options{})
	ctx := context.Background()

	if _, err := b.EnsureServerImage(ctx, model.Jolt, model.CPU()); err != nil {
		t.Fatalf("first EnsureServerImage: %v", err)
	}
	first := len(fake.CallsTo("BuildImage"))

	if _, err := b.EnsureServerImage(ctx, model.Jolt, model.CPU()); err != nil {
		t.Fatalf("second EnsureServerImage: %v", err)
	}
	if got := len(fake.CallsTo("BuildImage")); got != first {
		t.Errorf("second call ran %d builds, want 0", got-first)
	}
}

func TestEnsureServerImagePullsFromRegistry(t *testing.T) {
	fake := runnertest.New()
	b := newTestBuilder(t, fake, Options{Registry: "registry.local"})
	tags := b.ServerTags(model.Nexus, model.CPU())
	for _, img := range []string{tags.Base, tags.BackendBase, tags.Server} {
		fake.Pullable[img] = true
	}

	if _, err := b.EnsureServerImage(context.Background(), model.Nexus, model.CPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}

	if builds := builtTags(fake); len(builds) != 0 {
		t.Errorf("builds = %v, want none", builds)
	}
	if pulls := fake.CallsTo("PullImage"); len(pulls) != 3 {
		t.Errorf("pulls = %d, want 3", len(pulls))
	}
}

func TestEnsureServerImagePullFailureFallsBackToBuild(t *testing.T) {
	fake := runnertest.New()
	fake.PullFunc = func(string) error { return errors.New("manifest unknown") }
	b := newTestBuilder(t, fake, Options{Registry: "registry.local"})

	if _, err := b.EnsureServerImage(context.Background(), model.Pico, model.CPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}
	if builds := builtTags(fake); len(builds) != 3 {
		t.Errorf("builds = %v, want 3", builds)
	}
}

func TestEnsureServerImageForceRebuild(t *testing.T) {
	b := newTestBuilder(t, runnertest.New(), Options{ForceRebuild: true})
	tags := b.ServerTags(model.Miden, model.CPU())
	fake := runnertest.New(tags.Base, tags.BackendBase, tags.Server)
	b = newTestBuilder(t, fake, Options{ForceRebuild: true})

	if _, err := b.EnsureServerImage(context.Background(), model.Miden, model.CPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}
	if builds := builtTags(fake); len(builds) != 3 {
		t.Errorf("builds = %v, want 3", builds)
	}
	if n := len(fake.CallsTo("ImageExists")); n != 0 {
		t.Errorf("existence checks = %d, want 0 under force rebuild", n)
	}
}

func TestEnsureServerImageForceRebuildStillPulls(t *testing.T) {
	b := newTestBuilder(t, runnertest.New(), Options{Registry: "ghcr.io/x", ForceRebuild: true})
	tags := b.ServerTags(model.SP1, model.CPU())
	fake := runnertest.New()
	for _, img := range []string{tags.Base, tags.BackendBase, tags.Server} {
		fake.Pullable[img] = true
	}
	b = newTestBuilder(t, fake, Options{Registry: "ghcr.io/x", ForceRebuild: true})

	if _, err := b.EnsureServerImage(context.Background(), model.SP1, model.CPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}
	if n := len(fake.CallsTo("PullImage")); n != 3 {
		t.Errorf("pulls = %d, want 3", n)
	}
	if builds := builtTags(fake); len(builds) != 0 {
		t.Errorf("builds = %v, want none when every stage was pulled", builds)
	}
}

func TestEnsureServerImagePullsBeforeLocalCheck(t *testing.T) {
	b := newTestBuilder(t, runnertest.New(), Options{Registry: "registry.local"})
	tags := b.ServerTags(model.Zisk, model.CPU())
	fake := runnertest.New(tags.Base, tags.BackendBase, tags.Server)
	fake.PullFunc = func(string) error { return errors.New("registry unreachable") }
	b = newTestBuilder(t, fake, Options{Registry: "registry.local"})

	if _, err := b.EnsureServerImage(context.Background(), model.Zisk, model.CPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}
	calls := fake.Calls()
	if len(calls) == 0 || calls[0].Method != "PullImage" || calls[0].Target != tags.Base {
		t.Errorf("first call = %+v, want pull of %s", calls, tags.Base)
	}
	if builds := builtTags(fake); len(builds) != 0 {
		t.Errorf("builds = %v, want none for local images after a failed pull", builds)
	}
}

func TestEnsureServerImageStageFailureAborts(t *testing.T) {
	fake := runnertest.New()
	cmdErr := &runner.CommandError{Command: "docker build", ExitCode: 1, Err: errors.New("exit status 1")}
	b := newTestBuilder(t, fake, Options{})
	tags := b.ServerTags(model.Ziren, model.CPU())
	fake.BuildFunc = func(opts runner.BuildOptions) error {
		if opts.Tag == tags.BackendBase {
			return cmdErr
		}
		return nil
	}

	_, err := b.EnsureServerImage(context.Background(), model.Ziren, model.CPU())
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if buildErr.Stage != StageBackendBase || buildErr.Image != tags.BackendBase {
		t.Errorf("BuildError = %+v", buildErr)
	}
	if !errors.Is(err, cmdErr) {
		t.Error("BuildError does not wrap the command error")
	}
	if fake.HasImage(tags.Server) {
		t.Error("server stage ran after backend-base failed")
	}
}

func TestEnsureServerImageGPUArgs(t *testing.T) {
	fake := runnertest.New()
	b := newTestBuilder(t, fake, Options{
		Archs: func(context.Context) []int { return []int{120, 89} },
	})

	tags, err := b.EnsureServerImage(context.Background(), model.Risc0, model.GPU())
	if err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}

	builds := fake.CallsTo("BuildImage")
	if len(builds) != 3 {
		t.Fatalf("builds = %d, want 3", len(builds))
	}
	if want := []runner.Arg{{Key: "CUDA", Value: "1"}}; !reflect.DeepEqual(builds[0].Build.BuildArgs, want) {
		t.Errorf("base args = %v, want %v", builds[0].Build.BuildArgs, want)
	}
	wantBackend := []runner.Arg{
		{Key: "BASE_IMAGE", Value: tags.Base},
		{Key: "CUDA", Value: "1"},
		{Key: "CUDA_ARCH", Value: "89,120"},
	}
	if !reflect.DeepEqual(builds[1].Build.BuildArgs, wantBackend) {
		t.Errorf("backend-base args = %v, want %v", builds[1].Build.BuildArgs, wantBackend)
	}
	wantServer := []runner.Arg{{Key: "BASE_ZKVM_IMAGE", Value: tags.BackendBase}, {Key: "CUDA", Value: "1"}}
	if !reflect.DeepEqual(builds[2].Build.BuildArgs, wantServer) {
		t.Errorf("server args = %v, want %v", builds[2].Build.BuildArgs, wantServer)
	}
}

func TestEnsureServerImageGPUWithoutArchArg(t *testing.T) {
	fake := runnertest.New()
	called := false
	b := newTestBuilder(t, fake, Options{
		Archs: func(context.Context) []int { called = true; return []int{89} },
	})

	if _, err := b.EnsureServerImage(context.Background(), model.SP1, model.GPU()); err != nil {
		t.Fatalf("EnsureServerImage: %v", err)
	}
	if called {
		t.Error("architectures resolved for a kind without an arch build arg")
	}
}

func TestEnsureCompilerImage(t *testing.T) {
	fake := runnertest.New()
	b := newTestBuilder(t, fake, Options{})

	img, err := b.EnsureCompilerImage(context.Background(), model.OpenVM)
	if err != nil {
		t.Fatalf("EnsureCompilerImage: %v", err)
	}
	if img != "ere-compiler-openvm:0.1.0" {
		t.Errorf("image = %q", img)
	}
	want := []string{"ere-base:0.1.0", "ere-base-openvm:0.1.0", "ere-compiler-openvm:0.1.0"}
	if got := builtTags(fake); !reflect.DeepEqual(got, want) {
		t.Errorf("builds = %v, want %v", got, want)
	}

	before := len(fake.Calls())
	if _, err := b.EnsureCompilerImage(context.Background(), model.OpenVM); err != nil {
		t.Fatalf("second EnsureCompilerImage: %v", err)
	}
	if calls := fake.Calls()[before:]; len(calls) != 1 || calls[0].Method != "ImageExists" {
		t.Errorf("second call made %v, want one existence check", calls)
	}
}
