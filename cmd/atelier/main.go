// Command atelier runs the realtime design-assistant gateway: WebRTC
// media in, privacy-shielded frames and audio up to the live model,
// synthesized speech back out, plus the REST surface for spatial
// analysis and the snapshot gallery.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/atelierlive/atelier/internal/dotenv"
	"github.com/atelierlive/atelier/pkg/gallery"
	"github.com/atelierlive/atelier/pkg/gateway/config"
	"github.com/atelierlive/atelier/pkg/gateway/handlers"
	"github.com/atelierlive/atelier/pkg/gateway/lifecycle"
	"github.com/atelierlive/atelier/pkg/gateway/live"
	"github.com/atelierlive/atelier/pkg/gateway/metrics"
	"github.com/atelierlive/atelier/pkg/gateway/ratelimit"
	"github.com/atelierlive/atelier/pkg/gateway/server"
	"github.com/atelierlive/atelier/pkg/privacy"
	"github.com/atelierlive/atelier/pkg/upstream"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 70 runtime
// failure.
const (
	exitOK      = 0
	exitConfig  = 2
	exitRuntime = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "atelier: %v\n", err)
		return exitConfig
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "atelier: config: %v\n", err)
		return exitConfig
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		return exitRuntime
	}
	logger.Info("gateway stopped")
	return exitOK
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	genaiClient, err := upstream.NewGenAI(ctx, upstream.GenAIConfig{
		APIKey:       cfg.LiveAPIKey,
		LiveModel:    cfg.LiveModel,
		SpatialModel: cfg.SpatialModel,
	})
	if err != nil {
		return fmt.Errorf("live client: %w", err)
	}

	mets := metrics.New("")

	detector := privacy.NewHTTPDetector(cfg.FaceDetectorURL, privacy.WithTimeout(cfg.DetectorTimeout))
	shield := privacy.NewShield(detector, privacy.ShieldConfig{
		CrowdThreshold: cfg.CrowdThreshold,
		MinBlurRadius:  cfg.BlurRadiusMin,
		Metrics:        mets,
	})

	blobs, err := gallery.NewS3BlobStore(ctx, gallery.S3Config{
		Bucket:   cfg.BlobBucket,
		Region:   cfg.BlobRegion,
		Endpoint: cfg.BlobEndpoint,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	records, err := gallery.NewPGRecordStore(ctx, cfg.RecordDSN)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer records.Close()
	store := gallery.NewStore(blobs, records, cfg.RecordNamespace, cfg.SignedURLTTL, logger)

	manager := live.NewManager(genaiClient, shield, live.ManagerConfig{
		STUNURLs:       cfg.STUNURLs,
		SampleInterval: cfg.SampleInterval,
		BargeInEnergy:  cfg.BargeInEnergy,
		BargeInHold:    cfg.BargeInDuration,
		IdleTimeout:    cfg.SessionIdleTimeout,
		MaxDuration:    cfg.SessionMaxDuration,
		Bridge: upstream.BridgeConfig{
			ConnectTimeout: cfg.UpstreamConnectTimeout,
		},
		SamplerMetrics: mets,
		BridgeMetrics:  mets,
		SessionMetrics: mets,
	}, logger)

	lc := lifecycle.New()
	srv := server.New(cfg, server.Deps{
		Health:    handlers.NewHealth(lc, manager),
		Privacy:   handlers.NewPrivacy(shield, logger),
		Spatial:   handlers.NewSpatial(genaiClient, manager, logger),
		Gallery:   handlers.NewGallery(store, shield, logger),
		Signal:    handlers.NewSignal(manager, lc, originChecker(cfg.CORSAllowedOrigins), logger),
		Metrics:   mets.Handler(),
		Recorder:  mets,
		Limiter:   ratelimit.New(ratelimit.Config{RPM: cfg.RateLimitRPM}),
		Lifecycle: lc,
	}, logger)

	managerCtx, cancelManager := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(managerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		cancelManager()
		<-managerDone
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancelManager()
		<-managerDone
		return fmt.Errorf("shutdown: %w", err)
	}

	// Live sessions close after in-flight HTTP requests drain.
	cancelManager()
	<-managerDone

	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// originChecker permits WebSocket upgrades from the configured origins.
// Requests without an Origin header are same-origin and always pass; an
// empty allow list refuses every cross-origin upgrade.
func originChecker(allowed map[string]struct{}) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
