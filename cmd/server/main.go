package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gender-classifier/internal/api"
	"gender-classifier/internal/cfg"
	"gender-classifier/internal/checkpoint"
	"gender-classifier/internal/common"
	"gender-classifier/internal/imageproc"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/metrics"
	"gender-classifier/internal/ml"
	"gender-classifier/internal/online"
	"gender-classifier/internal/ui"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)
	imageproc.SetMaxPixels(c.MaxImagePixels)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	classifier := loadClassifier(c)
	store, err := ledger.Open(c.LedgerBackend, c.StatsFile)
	if err != nil {
		classifier.Close()
		log.Fatal().Err(err).Str("path", c.StatsFile).Msg("failed to open statistics ledger")
	}

	historyFile := c.HistoryFile
	if historyFile == "" {
		historyFile = filepath.Join(filepath.Dir(c.ModelPath), common.DefaultCheckpointHistory)
	}
	ckpt, err := checkpoint.New(c.ModelPath, checkpoint.Options{
		KeepBackups: c.KeepBackups,
		HistoryFile: historyFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize checkpointing")
	}

	svc, err := online.NewService(classifier, store, ckpt, online.Options{
		CheckpointEvery: c.CheckpointEvery,
		SaveOnShutdown:  c.SaveOnShutdown,
		Metrics:         mw,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create online learning service")
	}

	hub := ui.NewHub(svc.Stats, ui.HubOptions{
		Interval: c.StatsBroadcastInterval,
		Clients:  mw.WSClients(),
		Errors:   mw.Errors(),
	})
	svc.Subscribe(hub.Publish)

	router := api.NewRouter(svc, api.Options{
		MaxUploadMB: c.MaxUploadMB,
		CORSOrigin:  c.CORSOrigin,
		Metrics:     m,
	})
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	ui.NewHandler(hub, ui.PageData{MaxUploadMB: c.MaxUploadMB}).Register(router)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	startServer(server, cancel)

	waitForShutdown(ctx, cancel, &wg, server)

	// saves pending updates, then closes the ledger and the model
	if err := svc.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close online learning service")
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// loadClassifier opens the model file, wiring the ONNX backbone when configured.
func loadClassifier(c cfg.Settings) *ml.Classifier {
	var backbone ml.FeatureExtractor
	if c.BackbonePath != "" {
		mdPath := c.BackboneMetadata
		if mdPath == "" {
			mdPath = ml.BackboneMetadataPath(c.BackbonePath)
		}
		md, err := ml.LoadBackboneMetadata(mdPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", mdPath).Msg("failed to load backbone metadata")
		}
		ext, err := ml.NewONNXExtractor(c.BackbonePath, md, c.ONNXLibraryPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", c.BackbonePath).Msg("failed to load backbone")
		}
		backbone = ext
	}

	classifier, created, err := ml.OpenClassifier(c.ModelPath, ml.OpenOptions{
		LoadOptions: ml.LoadOptions{
			Backbone:     backbone,
			LearningRate: c.LearningRate,
		},
		CreateIfMissing: c.CreateIfMissing,
		ImageSize:       c.ImageSize,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("failed to load model")
	}

	w, h := classifier.InputSize()
	log.Info().
		Str("path", c.ModelPath).
		Bool("created", created).
		Int("width", w).
		Int("height", h).
		Int("steps", classifier.Steps()).
		Float64("learning_rate", c.LearningRate).
		Msg("model ready for predictions and online learning")
	return classifier
}

func startServer(server *http.Server, cancel context.CancelFunc) {
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown HTTP server")
	}

	cancel() // stops the stats hub and disconnects websocket clients

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
