package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/bgmhub/internal/api"
	"github.com/satindergrewal/bgmhub/internal/audio"
	"github.com/satindergrewal/bgmhub/internal/catalog"
	"github.com/satindergrewal/bgmhub/internal/playback"
	"github.com/satindergrewal/bgmhub/internal/reorder"
	"github.com/satindergrewal/bgmhub/internal/store"
	"github.com/satindergrewal/bgmhub/internal/stream"
	"github.com/satindergrewal/bgmhub/internal/web"
)

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the board UI, API and audio streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), app)
		},
	}
}

func runServe(ctx context.Context, app *App) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := app.cfg
	log.Println("bgmhub starting up...")

	// A failed manifest still serves the UI so it can explain the empty board.
	cat, loadErr := catalog.Load(ctx, catalog.NewSource(cfg.Manifest), cfg.ManifestRoot)
	if loadErr != nil {
		log.Printf("CATALOG: %v (serving an empty board)", loadErr)
	}

	kv, closeKV, err := openKV(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer closeKV()
	if cfg.StateDB == "" {
		log.Println("STORE: no state file configured, pad order will not survive restarts")
	}

	hub := web.NewHub()

	// Broadcaster: fan-out mixer frames to every stream listener
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, nil)

	// The mixer is created on the first trigger and then lives for the process.
	engine := playback.NewEngine(playback.Options{
		Fetcher: playback.NewFetcher(cfg.MediaBase),
		Pads:    hub,
		NewContext: func() (*audio.Mixer, error) {
			m := audio.NewMixer(cfg.IdleSuspend)
			go m.Run(ctx)
			broadcaster.Attach(m.Frames())
			return m, nil
		},
	})
	defer engine.Close()

	orders := store.NewOrderStore(kv, cfg.StoragePrefix)
	selection := store.NewSelection(ctx, kv, cfg.StoragePrefix, cat.Groups())
	reorderer := reorder.New(cat, orders, selection.Active, hub.Render)

	if cfg.Preload && selection.Active() != "" {
		go func() {
			n := engine.Preload(ctx, cat.Members(selection.Active()))
			log.Printf("ENGINE: preloaded %d clips of %s", n, selection.Active())
		}()
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, stream.WebRTCOptions{
		Bitrate:    cfg.OpusBitrate,
		ICEServers: cfg.ICEServers,
	})
	defer webrtcHandler.Close()

	if cfg.LocalOutput {
		out, err := stream.NewLocalOutput(broadcaster)
		if err != nil {
			log.Printf("STREAM: local output disabled: %v", err)
		} else {
			go func() {
				if err := out.Run(ctx); err != nil {
					log.Printf("STREAM: local output stopped: %v", err)
				}
			}()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", web.IndexHandler())
	mux.Handle("/static/", http.StripPrefix("/static/", web.StaticHandler()))
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate))
	mux.Handle("/offer", webrtcHandler)
	api.Register(mux, api.Deps{
		Catalog:   cat,
		LoadErr:   loadErr,
		Engine:    engine,
		Orders:    orders,
		Selection: selection,
		Reorder:   reorderer,
		Hub:       hub,
		Preload:   cfg.Preload,
		Listeners: func() map[string]int {
			return map[string]int{
				"broadcast": broadcaster.ListenerCount(),
				"webrtc":    webrtcHandler.PeerCount(),
			}
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("bgmhub live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
