package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/liveness"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
	"github.com/kozaktomas/face-attendance/internal/web"
)

// shutdownTimeout bounds the HTTP drain and the wait for pending notifications.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition pipeline and the HTTP API",
	Long: `Start the capture loop, the recognition pipeline and the HTTP API.

The camera is either an MJPEG stream (camera_url) or a directory of images
replayed at camera_fps (camera_dir). Failing to lock or open the camera is
fatal; every other failure is logged and the pipeline keeps running.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides web_port)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides web_host)")
}

// openSource opens the configured video source. ctx must outlive the source:
// the MJPEG connection is bound to it.
func openSource(ctx context.Context, cfg config.CameraConfig) (capture.Source, error) {
	switch {
	case cfg.Dir != "":
		return capture.OpenDir(cfg.Dir, cfg.FPS, cfg.Loop)
	case cfg.URL != "":
		return capture.OpenMJPEG(ctx, cfg.URL)
	default:
		return nil, errors.New("no video source configured (set camera_url or camera_dir)")
	}
}

// lockCamera takes the process lock guarding the video source.
func lockCamera(path string) (*flock.Flock, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire camera lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another instance holds the camera lock %s", path)
	}
	return lock, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	logger := logging.Module("serve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lock, err := lockCamera(cfg.Camera.LockFile)
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("failed to release camera lock", "error", err)
			}
		}()
	}

	source, err := openSource(ctx, cfg.Camera)
	if err != nil {
		return fmt.Errorf("opening video source: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		source.Close()
		return err
	}
	defer store.Close()

	m := metrics.NewManager()
	client := embedding.NewClient(cfg.Embedding.URL)
	if err := client.Health(ctx); err != nil {
		logger.Warn("embedding server not reachable yet", "url", cfg.Embedding.URL, "error", err)
	}

	galleryStore := gallery.NewStore(store, client, cfg.Storage.ImageDir, logging.Module("gallery"))
	galleryStore.OnLoad = m.GalleryLoaded
	galleryStore.AuditThreshold = cfg.Recognition.Threshold
	if _, err := galleryStore.Load(ctx); err != nil {
		logger.Error("starting with an empty gallery", "error", err)
	}

	evidence, err := attendance.NewFileEvidence(cfg.Storage.EvidenceDir)
	if err != nil {
		source.Close()
		return err
	}
	recorder := attendance.NewRecorder(store, store, evidence, attendance.Options{
		Cooldown:       cfg.Recognition.Cooldown(),
		EnableCooldown: cfg.Recognition.EnableCooldown,
	}, logging.Module("attendance"))
	if n, err := recorder.Seed(ctx, cfg.Recognition.CooldownSeed); err != nil {
		logger.Warn("cooldown seed failed, starting empty", "policy", cfg.Recognition.CooldownSeed, "error", err)
	} else if n > 0 {
		logger.Info("cooldown seeded", "policy", cfg.Recognition.CooldownSeed, "identities", n)
	}

	mailbox := capture.NewMailbox(m.FrameDropped)
	capturer := capture.NewCapturer(source, mailbox, logging.Module("capture"))
	capturer.OnFrame = m.FrameCaptured
	capturer.OnError = func(error) { m.FrameFailed() }

	deps := pipeline.Deps{
		Mailbox:  mailbox,
		Gallery:  galleryStore,
		Detector: client,
		Embedder: client,
		Eyes:     client,
		Recorder: recorder,
		Metrics:  m,
	}
	if cfg.Recognition.EnableLiveness {
		deps.Gate = liveness.NewGate(cfg.Recognition.LivenessTimeout())
	}

	var dispatcher *notify.Dispatcher
	if cfg.Recognition.EnableNotification {
		sinks, err := buildSinks(cfg.Notification)
		if err != nil {
			source.Close()
			return err
		}
		if len(sinks) == 0 {
			logger.Warn("notifications enabled but no sink configured")
		}
		dispatcher = notify.NewDispatcher(sinks, notify.Options{
			Timeout:   cfg.Notification.Timeout(),
			FirstOnly: cfg.Notification.FirstOnly,
		}, m, logging.Module("notify"))
		deps.Notifier = dispatcher
	}

	p := pipeline.New(deps, pipeline.Options{
		Threshold:          cfg.Recognition.Threshold,
		ProcessInterval:    cfg.Recognition.ProcessInterval,
		ResizeFactor:       cfg.Recognition.ResizeFactor,
		PollInterval:       cfg.Recognition.PollInterval(),
		EnableLiveness:     cfg.Recognition.EnableLiveness,
		EnableNotification: cfg.Recognition.EnableNotification,
	}, logging.Module("pipeline"))

	server := web.NewServer(cfg.Web, web.Deps{
		Board:    p.Board(),
		Scanner:  p,
		Gallery:  galleryStore,
		Events:   store,
		Database: store,
		Metrics:  m,
	}, logging.Module("web"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := capturer.Run(ctx); err != nil {
			logger.Error("capture stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}()

	logger.Info("face attendance running",
		"identities", galleryStore.Snapshot().Len(),
		"threshold", cfg.Recognition.Threshold,
		"process_interval", cfg.Recognition.ProcessInterval,
		"liveness", cfg.Recognition.EnableLiveness,
		"notifications", cfg.Recognition.EnableNotification)

	serveErr := server.Start()

	cancel()
	wg.Wait()
	if dispatcher != nil {
		dispatcher.Close(shutdownTimeout)
	}

	if serveErr != nil {
		return fmt.Errorf("starting server: %w", serveErr)
	}
	return nil
}
