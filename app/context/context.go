package context

import (
	"context"
	"io"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/graft/app/config"
	"go.hackfix.me/graft/db"
	"go.hackfix.me/graft/db/migrator"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx    context.Context // global context
	FS     vfs.FileSystem  // filesystem
	Env    Environment     // process environment
	Logger *slog.Logger    // global logger
	Clock  clock.Clock

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config *config.Config
	// DB and Registry are initialized on first use by commands that need
	// them, unless they're set in advance.
	DB       *db.DB
	Registry *migrator.Registry

	// Metadata
	Version *VersionInfo
}
