package cli

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/bgmhub/internal/catalog"
)

func newManifestCmd(app *App) *cobra.Command {
	var (
		dir   string
		out   string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Generate the clip manifest from a media folder",
		Long: strings.TrimSpace(`
Walks --dir (default: <media>/<root>) and writes one line per audio file,
"<root><group>/<file>", to --out (default: the configured manifest path).
Files directly inside --dir have no group and are skipped.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := app.cfg.ManifestRoot
			if dir == "" {
				if isURL(app.cfg.MediaBase) {
					return writeErr(cmd, errors.New("media base is a URL; pass --dir"))
				}
				dir = filepath.Join(app.cfg.MediaBase, filepath.FromSlash(root))
			}
			if out == "" {
				if isURL(app.cfg.Manifest) {
					return writeErr(cmd, errors.New("manifest is a URL; pass --out"))
				}
				out = app.cfg.Manifest
			}

			n, err := catalog.WriteManifestFile(dir, root, out)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := writeOut(cmd, app, map[string]any{"dir": dir, "out": out, "clips": n}); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			log.Printf("MANIFEST: watching %s", dir)
			return catalog.Watch(cmd.Context(), dir, 500*time.Millisecond, func() {
				n, err := catalog.WriteManifestFile(dir, root, out)
				if err != nil {
					log.Printf("MANIFEST: regenerate: %v", err)
					return
				}
				log.Printf("MANIFEST: wrote %d clips to %s", n, out)
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Folder whose subfolders are groups")
	cmd.Flags().StringVar(&out, "out", "", "Manifest file to write")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and regenerate on file changes")
	return cmd
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
