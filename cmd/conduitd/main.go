package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"conduit/internal/audit"
	"conduit/internal/config"
	"conduit/internal/daemon"
	"conduit/internal/distribution"
	"conduit/internal/logging"
	"conduit/internal/notifications"
	"conduit/internal/objectstore"
	"conduit/internal/pipeline"
	"conduit/internal/services/ffmpeg"
	"conduit/internal/services/forensic"
	"conduit/internal/store"
	"conduit/internal/transcode"
	"conduit/internal/upload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	blob, err := objectstore.NewDisk(cfg.Paths.StagingDir, cfg.Paths.StorageDir)
	if err != nil {
		logger.Error("open blob store", logging.Error(err))
		return
	}

	signer := forensic.NewSigner(cfg)
	encoder := ffmpeg.NewCLI(
		ffmpeg.WithBinaries(cfg.Transcode.FFmpegBinary, cfg.Transcode.FFprobeBinary),
	)

	uploads := upload.NewManager(cfg, st, blob, signer, logger)
	transcoder := transcode.NewOrchestrator(cfg, st, encoder, signer, blob, logger)

	registry, err := distribution.NewRegistry(cfg)
	if err != nil {
		logger.Error("build platform registry", logging.Error(err))
		return
	}
	distributor := distribution.NewDistributor(registry, st, distribution.NewHTTPPublisher(cfg), logger)

	notifier := notifications.NewService(cfg)
	uploads.SetNotifier(notifier)
	auditSink := audit.NewSink(cfg, logger)
	coordinator := pipeline.NewCoordinator(cfg, st, uploads, transcoder, distributor, notifier, auditSink, logger)

	d, err := daemon.New(cfg, st, coordinator, uploads, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("conduitd shutting down")
}
