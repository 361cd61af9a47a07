package main

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/benbjohnson/clock"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"go.hackfix.me/graft/app"
	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
)

func main() {
	a, err := app.New("graft",
		filepath.Join(xdg.ConfigHome, "graft", "config.json"),
		filepath.Join(xdg.DataHome, "graft"),
		app.WithClock(clock.New()),
		app.WithEnv(osEnv{}),
		app.WithFDs(
			os.Stdin,
			colorable.NewColorable(os.Stdout),
			colorable.NewColorable(os.Stderr),
		),
		app.WithFS(osfs.New()),
		app.WithLogger(
			isatty.IsTerminal(os.Stdout.Fd()),
			isatty.IsTerminal(os.Stderr.Fd()),
		),
	)
	if err != nil {
		aerrors.Errorf(err)
		os.Exit(1)
	}
	if err = a.Run(os.Args[1:]); err != nil {
		aerrors.Errorf(err)
		os.Exit(1)
	}
}

type osEnv struct{}

var _ actx.Environment = &osEnv{}

func (e osEnv) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func (e osEnv) Set(key, val string) error {
	return os.Setenv(key, val)
}
