package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/graft/app/config"
	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/cli"
)

// App is the application.
type App struct {
	name    string
	ctx     *actx.Context
	cli     *cli.CLI
	dataDir string
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name, configFilePath, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		Clock:   clock.New(),
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx, dataDir: dataDir}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(app.ctx.Env, configFilePath, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) (rerr error) {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if app.ctx.Config == nil {
		cfg := config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return aerrors.NewRuntimeError("failed loading configuration", err, "",
				"path", app.cli.ConfigFile)
		}
		app.ctx.Config = cfg
		defer func() { app.ctx.Config = nil }()
	}
	app.cli.ApplyConfig(app.ctx.Config)
	app.ctx.Config.SetDefaults(app.dataDir)

	// A database opened by a command is closed once it finishes, while one
	// provided with WithDB is owned by the caller.
	if app.ctx.DB == nil {
		defer func() {
			if app.ctx.DB == nil {
				return
			}
			if err := app.ctx.DB.Close(); err != nil && rerr == nil {
				rerr = fmt.Errorf("failed closing database: %w", err)
			}
			app.ctx.DB = nil
		}()
	}

	// Migrations loaded from the filesystem are reloaded on every run, since
	// commands can add new ones.
	if app.ctx.Registry == nil {
		defer func() { app.ctx.Registry = nil }()
	}

	if err := app.cli.Execute(app.ctx); err != nil {
		aerrors.Log(app.ctx.Ctx, app.ctx.Logger, slog.LevelDebug, err)
		return err
	}

	return nil
}
