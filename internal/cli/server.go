package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/rpc"
)

// ErrEmptyProgram is returned when stdin carries no program.
var ErrEmptyProgram = errors.New("empty program on stdin")

// RemoteCmd holds the flags of the network and cluster resources.
type RemoteCmd struct {
	Endpoint string `required:"" help:"Remote prover endpoint."`
	APIKey   string `name:"api-key" help:"Remote prover API key."`
}

// ServerFlags is the kong grammar of a backend server.
type ServerFlags struct {
	Port    int              `default:"4174" help:"Port to listen on."`
	Host    string           `default:"0.0.0.0" help:"Address to listen on."`
	Backend string           `required:"" env:"ERE_BACKEND" help:"Backend kind served by this server."`
	Version kong.VersionFlag `help:"Show version information."`

	CPU     struct{}  `cmd:"" name:"cpu" help:"Run on the local CPU."`
	GPU     struct{}  `cmd:"" name:"gpu" help:"Run on the local GPUs."`
	Network RemoteCmd `cmd:"" name:"network" help:"Delegate proving to a remote prover network."`
	Cluster RemoteCmd `cmd:"" name:"cluster" help:"Delegate proving to a remote cluster."`
}

// ServerCmd is a parsed backend server command line.
type ServerCmd struct {
	ServerFlags

	command string
}

// ParseServer parses args into a ServerCmd.
func ParseServer(name string, args []string) (*ServerCmd, error) {
	var cmd ServerCmd
	parser, err := kong.New(&cmd.ServerFlags,
		kong.Name(name),
		kong.Description("Serves one zkVM backend over HTTP."),
		kong.UsageOnError(),
		kong.Vars{"version": config.Version},
	)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return nil, err
	}
	cmd.command = kctx.Command()
	return &cmd, nil
}

// Kind returns the parsed backend kind.
func (c *ServerCmd) Kind() (model.BackendKind, error) {
	return model.ParseBackendKind(c.Backend)
}

// Resource maps the selected subcommand to a compute resource.
func (c *ServerCmd) Resource() (model.Resource, error) {
	var res model.Resource
	switch c.command {
	case "cpu":
		res = model.CPU()
	case "gpu":
		res = model.GPU()
	case "network":
		res = model.Network(c.Network.Endpoint, c.Network.APIKey)
	case "cluster":
		res = model.Cluster(c.Cluster.Endpoint, c.Cluster.APIKey)
	default:
		return model.Resource{}, fmt.Errorf("unknown resource command %q", c.command)
	}
	return res, res.Validate()
}

// Addr returns the listen address.
func (c *ServerCmd) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Serve reads the program from stdin, creates the backend through reg and
// serves it until ctx is done.
func (c *ServerCmd) Serve(ctx context.Context, stdin io.Reader, reg *backend.Registry, logger *slog.Logger) error {
	kind, err := c.Kind()
	if err != nil {
		return err
	}
	res, err := c.Resource()
	if err != nil {
		return err
	}

	program, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read program from stdin: %w", err)
	}
	if len(program) == 0 {
		return ErrEmptyProgram
	}

	b, err := reg.New(kind, res, program)
	if err != nil {
		return err
	}
	if closer, ok := b.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close backend", "error", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("server starting",
		"backend", kind.String(),
		"resource", res.String(),
		"addr", ln.Addr().String(),
		"name", b.Name(),
		"sdk_version", b.SDKVersion(),
		"program_bytes", len(program),
	)
	return rpc.NewServer(b, logger).Serve(ctx, ln)
}
