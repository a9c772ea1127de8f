package session

import (
	"path/filepath"
	"strconv"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
)

// DockerSocket is the container runtime socket mounted into containers that
// start sibling containers.
const DockerSocket = "/var/run/docker.sock"

// commonInheritEnv is forwarded to every server container when set.
var commonInheritEnv = []string{"RUST_LOG", "NO_COLOR", "ERE_LOG_LEVEL"}

// ContainerName returns the server container name for kind on port.
func ContainerName(kind model.BackendKind, port int) string {
	return "ere-server-" + kind.String() + "-" + strconv.Itoa(port)
}

// launch is the fully assembled container run of one session.
type launch struct {
	name string
	port int
	run  runner.RunOptions
}

// assemble builds the run options for a server container. It reads the
// environment only through l.opts.LookupEnv. scratch is the host temp dir
// shared with the container, or "" when the kind needs none.
func (l *Launcher) assemble(kind model.BackendKind, res model.Resource, image, scratch string) launch {
	p := kind.Profile()
	gpu := res.IsGPU()
	port := l.Port(kind)
	name := ContainerName(kind, port)

	run := runner.RunOptions{
		Image:   image,
		Name:    name,
		Remove:  true,
		Publish: []string{runner.PublishPort(port)},
	}

	run.Env = l.inherit(run.Env, commonInheritEnv)
	run.Env = l.inherit(run.Env, p.InheritEnv)
	if gpu {
		run.Env = l.inherit(run.Env, p.GPUInheritEnv)
	}

	for _, o := range p.RunOptions {
		run.Options = append(run.Options, runner.Arg{Key: o.Name, Value: o.Value})
	}

	hostNetwork := false
	dockerSocket := false
	if gpu {
		if p.GPUDevices {
			run.Options = append(run.Options, runner.Arg{Key: "gpus", Value: l.opts.GPUDevices})
		}
		dockerSocket = p.GPUDockerSocket
		hostNetwork = p.GPUHostNetwork
	}
	switch {
	case hostNetwork:
		run.Options = append(run.Options, runner.Arg{Key: "network", Value: "host"})
	case l.opts.Network != "":
		run.Options = append(run.Options, runner.Arg{Key: "network", Value: l.opts.Network})
	}

	if scratch != "" {
		dockerSocket = true
		run.Env = append(run.Env, runner.Arg{Key: "TMPDIR", Value: scratch})
		run.Volumes = append(run.Volumes, runner.Volume(scratch, scratch))
	}
	if l.opts.HomeDir != "" {
		for _, m := range p.HomeMounts {
			path := filepath.Join(l.opts.HomeDir, m.Path)
			run.Env = append(run.Env, runner.Arg{Key: m.Env, Value: path})
			run.Volumes = append(run.Volumes, runner.Volume(path, path))
		}
	}
	if dockerSocket {
		run.Volumes = append(run.Volumes, runner.Volume(DockerSocket, DockerSocket))
	}

	run.Args = append([]string{"--port", strconv.Itoa(port), "--backend", kind.String()}, res.Args()...)
	return launch{name: name, port: port, run: run}
}

func (l *Launcher) inherit(env []runner.Arg, names []string) []runner.Arg {
	for _, name := range names {
		if v, ok := l.opts.LookupEnv(name); ok {
			env = append(env, runner.Arg{Key: name, Value: v})
		}
	}
	return env
}
