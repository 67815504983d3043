// Package cli wires the bgmhub command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/bgmhub/internal/config"
	"github.com/satindergrewal/bgmhub/internal/store"
)

type App struct {
	cfg    config.Config
	Pretty bool
}

func NewRootCmd() *cobra.Command {
	app := &App{cfg: config.Load()}

	cmd := &cobra.Command{
		Use:          "bgmhub",
		Short:        "Soundboard server: pads, crossfades and per-group ordering",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the board (same as: bgmhub serve)
  bgmhub

  # Regenerate the manifest from a media folder and keep it fresh
  bgmhub manifest --watch

  # Inspect or forget the custom pad order of a group
  bgmhub order show fx
  bgmhub order reset fx
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runServe(cmd.Context(), app)
			}
			return cmd.Help()
		},
	}

	f := cmd.PersistentFlags()
	f.IntVar(&app.cfg.Port, "port", app.cfg.Port, "HTTP port (BGMHUB_PORT)")
	f.StringVar(&app.cfg.Manifest, "manifest", app.cfg.Manifest, "Manifest URL or file (BGMHUB_MANIFEST)")
	f.StringVar(&app.cfg.ManifestRoot, "root", app.cfg.ManifestRoot, "Path prefix of manifest entries (BGMHUB_MEDIA_ROOT)")
	f.StringVar(&app.cfg.MediaBase, "media", app.cfg.MediaBase, "Media base URL or directory (BGMHUB_MEDIA_BASE)")
	f.StringVar(&app.cfg.StateDB, "state", app.cfg.StateDB, "SQLite state file; empty keeps state in memory (BGMHUB_STATE_DB)")
	f.BoolVar(&app.Pretty, "pretty", false, "Pretty-print JSON output")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newManifestCmd(app))
	cmd.AddCommand(newOrderCmd(app))

	return cmd
}

// openKV opens the configured SQLite state, or an in-memory store when no
// path is set. The returned close func is always non-nil.
func openKV(path string) (store.KV, func(), error) {
	if path == "" {
		return store.NewMemoryKV(), func() {}, nil
	}
	kv, err := store.OpenSQLite(path)
	if err != nil {
		return nil, func() {}, err
	}
	return kv, func() { kv.Close() }, nil
}

var errNoStateDB = errors.New("no state database configured (set --state or BGMHUB_STATE_DB)")

func writeOut(cmd *cobra.Command, app *App, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if app.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
