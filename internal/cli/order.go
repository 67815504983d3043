package cli

import (
	"log"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/bgmhub/internal/catalog"
	"github.com/satindergrewal/bgmhub/internal/store"
)

func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect or reset the saved pad order of groups",
	}
	cmd.AddCommand(newOrderListCmd(app))
	cmd.AddCommand(newOrderShowCmd(app))
	cmd.AddCommand(newOrderResetCmd(app))
	return cmd
}

type orderView struct {
	Group    string   `json:"group"`
	Stored   []string `json:"stored"`
	Custom   bool     `json:"custom"`
	Resolved []string `json:"resolved,omitempty"`
}

func newOrderListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups with a saved order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, done, err := openStateKV(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()

			prefix := app.cfg.StoragePrefix
			if prefix == "" {
				prefix = store.DefaultPrefix
			}
			prefix += ".order."
			keys, err := kv.Keys(cmd.Context(), prefix)
			if err != nil {
				return writeErr(cmd, err)
			}
			groups := make([]string, 0, len(keys))
			for _, k := range keys {
				groups = append(groups, strings.TrimPrefix(k, prefix))
			}
			sort.Strings(groups)
			return writeOut(cmd, app, map[string]any{"groups": groups})
		},
	}
}

func newOrderShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group>",
		Short: "Show the saved order of a group and how it resolves against the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, done, err := openStateKV(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()

			ctx := cmd.Context()
			orders := store.NewOrderStore(kv, app.cfg.StoragePrefix)
			stored, custom := orders.Load(ctx, args[0])
			view := orderView{Group: args[0], Stored: stored, Custom: custom}
			if view.Stored == nil {
				view.Stored = []string{}
			}

			// The manifest is optional here; without it only the raw ids are shown.
			cat, err := catalog.Load(ctx, catalog.NewSource(app.cfg.Manifest), app.cfg.ManifestRoot)
			if err != nil {
				log.Printf("CATALOG: %v", err)
			} else if cat.HasGroup(args[0]) {
				view.Resolved = store.IDs(orders.Resolve(ctx, args[0], cat))
			}
			return writeOut(cmd, app, view)
		},
	}
}

func newOrderResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <group>",
		Short: "Forget the saved order of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, done, err := openStateKV(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()

			if err := store.NewOrderStore(kv, app.cfg.StoragePrefix).Reset(cmd.Context(), args[0]); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"group": args[0], "reset": true})
		},
	}
}

// openStateKV is openKV for commands that only make sense against a
// persistent state file.
func openStateKV(app *App) (store.KV, func(), error) {
	if app.cfg.StateDB == "" {
		return nil, func() {}, errNoStateDB
	}
	return openKV(app.cfg.StateDB)
}
