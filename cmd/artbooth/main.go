package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rvillela/artbooth/internal/config"
	"github.com/rvillela/artbooth/internal/gallery"
	"github.com/rvillela/artbooth/internal/httpapi"
	"github.com/rvillela/artbooth/internal/imagegen"
	"github.com/rvillela/artbooth/internal/observability"
	"github.com/rvillela/artbooth/internal/realtime"
	"github.com/rvillela/artbooth/internal/session"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	galleryStore, err := gallery.NewStore(ctx, gallery.Options{
		Mode:                cfg.GalleryMode,
		DatabaseURL:         cfg.DatabaseURL,
		HostedImagesBaseURL: cfg.HostedImagesBaseURL,
		HostedImagesToken:   cfg.HostedImagesToken,
		PublicBaseURL:       cfg.PublicBaseURL,
	})
	if err != nil {
		log.Fatalf("gallery store: %v", err)
	}
	defer galleryStore.Close()

	sessions, err := session.NewStore(ctx, cfg.DatabaseURL, galleryStore)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer sessions.Close()

	provider, err := imagegen.NewProvider(imagegen.ProviderOptions{
		Mode:    cfg.ImageProvider,
		APIKey:  cfg.ImageAPIKey,
		BaseURL: cfg.ImageBaseURL,
		Model:   cfg.ImageModel,
	})
	if err != nil {
		log.Fatalf("image provider: %v", err)
	}
	log.Printf("image provider: %s", provider.Name())

	gateway := imagegen.NewGateway(provider, galleryStore, metrics, imagegen.GatewayConfig{
		StyleSuffix:  cfg.StyleSuffix,
		SafePrompt:   cfg.SafePrompt,
		Size:         cfg.ImageSize,
		RequirePhoto: cfg.KioskMode,
		Strategy:     imagegen.Strategy(cfg.RetryStrategy),
		StaggerDelay: cfg.StaggerDelay,
	})

	relay := realtime.NewRelay(realtime.RelayConfig{
		APIKey:       cfg.RealtimeAPIKey,
		BaseURL:      cfg.RealtimeBaseURL,
		Model:        cfg.RealtimeModel,
		Voice:        cfg.RealtimeVoice,
		Instructions: cfg.Instructions,
	})

	api := httpapi.New(httpapi.Deps{
		Relay:    relay,
		Gateway:  gateway,
		Sessions: sessions,
		Gallery:  galleryStore,
		Metrics:  metrics,
	})

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		// Image generation holds requests open for minutes.
		WriteTimeout: 6 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("art booth relay listening on %s", cfg.BindAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
