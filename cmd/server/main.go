package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"raster-timelapse/internal/mapbridge"
	"raster-timelapse/internal/platform/config"
	"raster-timelapse/internal/platform/discovery"
	"raster-timelapse/internal/platform/logger"
	"raster-timelapse/internal/platform/metrics"
	"raster-timelapse/internal/platform/pubsub"
	"raster-timelapse/internal/timelapse"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 30 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	catalogURL := config.GetEnv("CATALOG_URL", "http://localhost:8000/timestamps")
	databaseURL := config.GetEnv("DATABASE_URL", "")
	datetimeFormat := config.GetEnv("DATETIME_FORMAT", timelapse.DefaultDatetimeFormat)
	metadataURL := config.GetEnv("METADATA_URL", "http://localhost:8000/cog/info")
	tileURL := config.GetEnv("TILE_URL", timelapse.DefaultTileURL)
	rasterRoot := config.GetEnv("RASTER_ROOT", timelapse.DefaultRasterRoot)
	variable := config.GetEnv("DATA_VARIABLE", timelapse.DefaultVariable)
	colormap := config.GetEnv("COLORMAP", timelapse.DefaultColormap)
	interval := config.GetEnvDuration("PLAYBACK_INTERVAL", timelapse.DefaultPlaybackInterval)
	metadataTimeout := config.GetEnvDuration("METADATA_TIMEOUT", timelapse.DefaultMetadataTimeout)
	catalogRetries := config.GetEnvInt("CATALOG_RETRIES", 5)
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	redisChannel := config.GetEnv("REDIS_CHANNEL", pubsub.DefaultChannel)
	discoveryEnabled := config.GetEnvBool("DISCOVERY_ENABLED", false)

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	cleanup := &closers{log: log}

	catalog, catalogErr := loadCatalog(startCtx, catalogConfig{
		databaseURL: databaseURL,
		catalogURL:  catalogURL,
		layout:      datetimeFormat,
		retries:     catalogRetries,
	}, logger.Component(log, "catalog"), cleanup)
	if catalogErr != nil {
		log.Error("catalog load failed", "error", catalogErr)
	}

	hub := mapbridge.NewHub(logger.Component(log, "mapbridge"), met)
	notifiers := timelapse.Notifiers{hub, timelapse.LogNotifier{Log: logger.Component(log, "notify")}}

	var publisher *pubsub.Publisher
	if redisAddr != "" {
		p, err := pubsub.Connect(startCtx, redisAddr, redisChannel, logger.Component(log, "pubsub"))
		if err != nil {
			log.Warn("redis unavailable, events not published", "error", err)
		} else {
			publisher = p
			cleanup.add("redis publisher", publisher.Close)
			notifiers = append(notifiers, publisher)
		}
	}

	viewer, err := timelapse.NewViewer(catalog, timelapse.Deps{
		Fetcher:  timelapse.NewHTTPMetadataFetcher(metadataURL, metadataTimeout, nil),
		Map:      hub,
		Notifier: notifiers,
		Log:      log,
		Metrics:  met,
	}, timelapse.ViewerConfig{
		Layout:     timelapse.TileLayout{RasterRoot: rasterRoot, TileURL: tileURL},
		Selection:  timelapse.Selection{Variable: variable, Colormap: colormap},
		Interval:   interval,
		CatalogErr: catalogErr,
	})
	if err != nil {
		log.Error("viewer setup failed", "error", err)
		cleanup.run()
		os.Exit(1)
	}
	if publisher != nil {
		viewer.Observe(publisher.LayerApplied)
	}

	h := timelapse.NewHandler(viewer, logger.Component(log, "api"))

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetBridgeClients(hub.ClientCount())
			met.SetCatalogSize(viewer.Catalog().Len())
		}).ServeHTTP(w, r)
	})
	r.Handle("/ws", hub)
	r.Mount("/api", h.Routes())

	srv := &http.Server{Addr: ":" + port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		viewer.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", port,
		"timestamps", catalog.Len(),
		"variable", variable,
		"colormap", colormap,
		"playback_interval", interval,
		"log_level", logLevel,
	)

	if discoveryEnabled {
		if n, err := strconv.Atoi(port); err == nil {
			svc := discovery.New("", n, logger.Component(log, "discovery"), map[string]string{
				"api":  "/api",
				"ws":   "/ws",
				"vars": variable,
			})
			if err := svc.Start(); err != nil {
				log.Warn("discovery unavailable", "error", err)
			} else {
				cleanup.add("discovery", func() error {
					svc.Stop()
					return nil
				})
			}
		}
	}

	if err := viewer.Start(ctx); err != nil {
		log.Warn("nothing to show", slog.String("error", err.Error()))
	}

	err = g.Wait()
	cleanup.run()
	if err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
