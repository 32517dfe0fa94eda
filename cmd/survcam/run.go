package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/handoff"
	"github.com/kyuhyong/surveillance-camera/internal/motion"
	"github.com/kyuhyong/surveillance-camera/internal/pipeline"
	"github.com/kyuhyong/surveillance-camera/internal/recorder"
	"github.com/kyuhyong/surveillance-camera/internal/relay"
	"github.com/kyuhyong/surveillance-camera/internal/retention"
	"github.com/kyuhyong/surveillance-camera/internal/state"
	"github.com/kyuhyong/surveillance-camera/internal/stream"
	"github.com/kyuhyong/surveillance-camera/internal/telegram"
	"github.com/kyuhyong/surveillance-camera/internal/transcode"
	"github.com/kyuhyong/surveillance-camera/internal/ws"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Capture, detect motion and record clips until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout := a.layout()
	if err := layout.Ensure(); err != nil {
		return err
	}

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := a.openState(db)
	if err != nil {
		return err
	}
	defer store.Close()
	if fs, ok := store.(*state.FileStore); ok {
		if err := fs.Watch(); err != nil {
			logger.Warn("state file watch unavailable, reading on every tick", "error", err)
		}
	}

	src, err := camera.New(camera.Config{
		Backend:     cfg.Camera.Backend,
		Device:      cfg.Camera.Device,
		Command:     cfg.Camera.Command,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		FPS:         cfg.Camera.FPS,
		PixelFormat: cfg.Camera.PixelFormat,
		Warmup:      cfg.Camera.Warmup,
	}, logger)
	if err != nil {
		return err
	}
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("camera unavailable: %w", err)
	}

	notes := handoff.NewNotificationQueue(cfg.Handoff.NotificationDepth)

	worker := transcode.NewWorker(transcode.New(transcode.Config{
		FFmpeg:  cfg.Transcode.FFmpeg,
		Profile: cfg.Transcode.Profile,
		Preset:  cfg.Transcode.Preset,
		CRF:     cfg.Transcode.CRF,
		FPS:     cfg.Recording.FPS,
	}), notes, db, cfg.Transcode.Queue, logger)
	worker.Start()

	ctrl := recorder.New(layout, recorder.Config{Duration: cfg.Recording.Duration},
		recorder.NewFFmpegWriterFactory(recorder.WriterConfig{
			FFmpeg: cfg.Transcode.FFmpeg,
			Width:  cfg.Recording.Width,
			Height: cfg.Recording.Height,
			FPS:    cfg.Recording.FPS,
		}, logger),
		worker, logger)

	det := motion.NewDetector(motion.Config{
		BrightnessThreshold: cfg.Detection.BrightnessThreshold,
		ReadyCount:          cfg.Detection.ReadyCount,
		DiffThreshold:       cfg.Detection.DiffThreshold,
		MinArea:             cfg.Detection.MinArea,
		BlurSize:            cfg.Detection.BlurSize,
		DilateIterations:    cfg.Detection.DilateIterations,
	})

	sweeper := retention.New(layout, retention.Config{
		Days:     cfg.Retention.Days,
		Schedule: cfg.Retention.Schedule,
	}, db, logger)
	if err := sweeper.Start(ctx); err != nil {
		src.Stop()
		worker.Close(context.Background())
		return err
	}
	defer sweeper.Stop()

	var wg sync.WaitGroup
	listeners := []relay.Listener{relay.NewLogListener(logger)}

	var (
		frames *handoff.FrameQueue
		mjpeg  *stream.MJPEGStream
	)
	if cfg.Relay.WebsocketAddr != "" {
		frames = handoff.NewFrameQueue(cfg.Handoff.FrameDepth)
		hub := ws.NewHub(logger)
		defer hub.Close()
		mjpeg = stream.NewMJPEGStream(logger)
		defer mjpeg.Close()
		listeners = append(listeners, hub)

		preview := ws.NewPreview(frames, cfg.Relay.PreviewQuality, logger, hub, mjpeg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			preview.Run(ctx)
		}()

		handleHTTPServer(ctx, cfg.Relay.WebsocketAddr, newMux(hub, mjpeg, ctrl), &wg, logger)
	}

	if cfg.Relay.MQTT.Broker != "" {
		mq := relay.NewMQTTListener(relay.MQTTConfig{
			Broker:   cfg.Relay.MQTT.Broker,
			Topic:    cfg.Relay.MQTT.Topic,
			ClientID: cfg.Relay.MQTT.ClientID,
			QoS:      cfg.Relay.MQTT.QoS,
		}, logger)
		if err := mq.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable at startup, retrying in background", "error", err)
		}
		defer mq.Disconnect()
		listeners = append(listeners, mq)
	}

	if cfg.Relay.Telegram.Token != "" {
		bot := telegram.NewBot(telegram.Config{
			Token:    cfg.Relay.Telegram.Token,
			ChatID:   cfg.Relay.Telegram.ChatID,
			Cooldown: cfg.Relay.Telegram.Cooldown,
		}, logger)
		if err := bot.Connect(ctx); err != nil {
			logger.Warn("telegram disabled", "error", err)
		} else {
			listeners = append(listeners, telegram.NewNotifier(bot, layout.ImagesDir))
			if cfg.Relay.Telegram.Commands {
				var snapshot func() []byte
				if mjpeg != nil {
					snapshot = mjpeg.CurrentFrame
				}
				commands := telegram.NewCommandHandler(bot, store, func() string { return ctrl.State().String() }, snapshot)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := commands.Run(ctx); err != nil {
						logger.Warn("telegram command polling stopped", "error", err)
					}
				}()
			}
		}
	}

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	rl := relay.New(notes, logger, listeners...)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		rl.Run(relayCtx)
	}()

	loop := pipeline.New(src, det, ctrl, store, frames, pipeline.Config{
		Interval:  cfg.Detection.Interval,
		TargetFPS: cfg.Recording.TargetFPS,
		Overlay:   cfg.Recording.Overlay,
	}, logger)

	// Blocks until a signal arrives; the loop closes the active clip and
	// releases the camera on the way out.
	runErr := loop.Run(ctx)

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := worker.Close(shutdownCtx); err != nil {
		logger.Warn("transcode backlog abandoned", "error", err)
	}
	cancelRelay()
	<-relayDone
	wg.Wait()

	ts, ns, rs := worker.Stats(), notes.Stats(), rl.Stats()
	logger.Info("exited",
		"clips_transcoded", ts.Completed,
		"clips_failed", ts.Failed,
		"notifications", ns.Sent,
		"notifications_dropped", ns.Dropped,
		"deliveries", rs.Delivered,
		"delivery_failures", rs.Failed)
	return runErr
}
