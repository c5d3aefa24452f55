package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/platinummonkey/tenantguard/pkg/app"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what commands need from the outside world
type Env struct {
	Out io.Writer
	// Open builds the application from configuration
	Open func(ctx context.Context) (*app.App, error)
	// NewS3 creates the archive client
	NewS3 func(ctx context.Context, cfg audit.S3Config) (audit.ObjectPutter, error)
}

// DefaultEnv loads configuration from the environment
func DefaultEnv() *Env {
	return &Env{
		Out: os.Stdout,
		Open: func(ctx context.Context) (*app.App, error) {
			cfg, err := config.LoadConfig()
			if err != nil {
				return nil, err
			}
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
			logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
			return app.New(ctx, cfg, logger)
		},
		NewS3: func(ctx context.Context, cfg audit.S3Config) (audit.ObjectPutter, error) {
			return audit.NewS3Client(ctx, cfg)
		},
	}
}

// withApp opens the application, runs fn and closes it, flushing pending audit entries
func (e *Env) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := e.Open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (e *Env) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "tenantctl",
		Description: "TenantGuard - tenant isolation administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tenantctl", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newTenantCommand(env),
		newReassignCommand(env),
		newReplayCommand(env),
		newArchiveCommand(env),
		newPlansCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-20s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
