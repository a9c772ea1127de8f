package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/eth-act/ere/internal/compiler"
	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner"
)

// CompileCmd is the kong grammar of the guest compiler.
type CompileCmd struct {
	Backend      string           `required:"" env:"ERE_BACKEND" help:"Backend kind to compile for."`
	CompilerKind string           `name:"compiler-kind" default:"rust" help:"Guest toolchain (rust, rust-customized, go-customized, miden-asm)."`
	MountDir     string           `name:"mount-dir" default:"." type:"existingdir" help:"Directory mounted into the compiler container."`
	Output       string           `short:"o" required:"" type:"path" help:"File the compiled program is written to."`
	Guest        string           `arg:"" type:"existingdir" help:"Guest program directory, below --mount-dir."`
	Version      kong.VersionFlag `help:"Show version information."`
}

// ParseCompile parses args into a CompileCmd.
func ParseCompile(name string, args []string) (*CompileCmd, error) {
	var cmd CompileCmd
	parser, err := kong.New(&cmd,
		kong.Name(name),
		kong.Description("Compiles a guest program inside a backend compiler container."),
		kong.UsageOnError(),
		kong.Vars{"version": config.Version},
	)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Run compiles the guest and writes the program to c.Output.
func (c *CompileCmd) Run(ctx context.Context, images compiler.ImageEnsurer, r runner.Runner, logger *slog.Logger) error {
	kind, err := model.ParseBackendKind(c.Backend)
	if err != nil {
		return err
	}
	ck, err := compiler.ParseKind(c.CompilerKind)
	if err != nil {
		return err
	}

	comp, err := compiler.New(ctx, compiler.Options{
		Backend:  kind,
		Kind:     ck,
		MountDir: c.MountDir,
		Images:   images,
		Runner:   r,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	program, err := comp.Compile(ctx, c.Guest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Output, program, 0o644); err != nil {
		return fmt.Errorf("write program: %w", err)
	}
	logger.Info("program compiled", "backend", kind.String(), "output", c.Output, "program_bytes", len(program))
	return nil
}
