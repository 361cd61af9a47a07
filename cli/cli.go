package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/graft/app/config"
	actx "go.hackfix.me/graft/app/context"
)

// CLI is the command line interface of Graft.
type CLI struct {
	Migrate Migrate `kong:"cmd,help='Apply pending migrations, or move the database to a target state.'"`
	Revert  Revert  `kong:"cmd,help='Revert migrations and the migrations that depend on them.'"`
	Status  Status  `kong:"cmd,help='Show the state of all migrations.',aliases='st'"`
	Plan    Plan    `kong:"cmd,help='Show the migrations that would run, without running them.'"`
	Schema  Schema  `kong:"cmd,help='Print the database schema.'"`
	New     NewCmd  `kong:"cmd,help='Create a new SQL migration.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile      string           `kong:"default='${configFile}',help='Path to the Graft configuration file.'"`
	Database        string           `kong:"help='Path to the SQLite database. Default: ${dataDir}/graft.db'"`
	MigrationsDir   string           `kong:"help='Path to the directory with SQL migration files.'"`
	MigrationsTable string           `kong:"help='Name of the table that records applied migrations.'"`
	Version         kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface. Flag values missing from the
// command line are looked up in env.
func New(env actx.Environment, configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Resolvers(envResolver(env)),
		kong.Name("graft"),
		kong.Description("Dependency-ordered schema migrations for SQLite."),
		kong.UsageOnError(),
		kong.DefaultEnvars("GRAFT"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// envResolver resolves flag values from the environment variables kong
// assigns to them, e.g. GRAFT_DATABASE for --database.
func envResolver(env actx.Environment) kong.Resolver {
	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if env == nil {
			return nil, nil
		}
		for _, name := range flag.Envs {
			if val, ok := env.Lookup(name); ok {
				return val, nil
			}
		}
		return nil, nil
	})
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig overrides configuration values with the ones set on the command
// line or in the environment.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.Database != "" {
		cfg.Database.Path = sql.Null[string]{V: c.Database, Valid: true}
	}
	if c.MigrationsDir != "" {
		cfg.Migrations.Dir = sql.Null[string]{V: c.MigrationsDir, Valid: true}
	}
	if c.MigrationsTable != "" {
		cfg.Migrations.Table = sql.Null[string]{V: c.MigrationsTable, Valid: true}
	}
}
