// Command spcd runs the defect early-warning service: an HTTP API over a
// table of adaptive CUSUM detectors, with periodic state checkpoints and
// record retention pruning.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sundaman/defect-warning-system/manager"
	"github.com/sundaman/defect-warning-system/spchttp"
	"github.com/sundaman/defect-warning-system/storage"
)

func main() {
	var (
		addr               = pflag.String("addr", ":8000", "HTTP listen address")
		dbPath             = pflag.String("db", "data/spc.db", "SQLite database path")
		configPath         = pflag.String("configs", "data/configs.json", "config store path")
		webhookURL         = pflag.String("webhook", "", "alert webhook URL (empty disables pushes)")
		checkpointInterval = pflag.Duration("checkpoint-interval", 24*time.Hour, "detector state checkpoint interval")
		retention          = pflag.Duration("retention", 30*24*time.Hour, "record retention window")
		pruneInterval      = pflag.Duration("prune-interval", time.Hour, "record pruning interval")
		debug              = pflag.Bool("debug", false, "enable debug logging")
	)
	pflag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *addr, *dbPath, *configPath, *webhookURL, *checkpointInterval, *retention, *pruneInterval); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
}

func run(ctx context.Context, log zerolog.Logger, addr, dbPath, configPath, webhookURL string,
	checkpointInterval, retention, pruneInterval time.Duration) error {

	configs, err := storage.NewJSONConfigStore(configPath)
	if err != nil {
		return err
	}
	db, err := storage.OpenSQL(ctx, dbPath, log)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr, err := manager.New(manager.Config{
		ConfigStore: configs,
		StateStore:  db,
		RecordLog:   db,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	if n, err := mgr.LoadAllStates(ctx); err != nil {
		log.Warn().Err(err).Msg("loading detector states failed")
	} else if n > 0 {
		log.Info().Int("detectors", n).Msg("detector states loaded")
	}

	var pusher spchttp.Pusher
	if webhookURL != "" {
		pusher = spchttp.NewWebhookPusher(webhookURL, nil, log)
	}
	server := &http.Server{
		Addr:    addr,
		Handler: spchttp.NewServer(mgr, db, pusher, log).Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := mgr.CheckpointLoop(ctx, checkpointInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := db.PruneLoop(ctx, pruneInterval, retention)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}
