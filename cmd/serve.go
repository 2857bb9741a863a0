package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/daemon/collector"
	"github.com/grovetools/slidesync/internal/daemon/engine"
	"github.com/grovetools/slidesync/internal/daemon/hub"
	"github.com/grovetools/slidesync/internal/daemon/pidfile"
	"github.com/grovetools/slidesync/internal/daemon/server"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/logging"
)

// NewServeCmd returns the serving process command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve images and stream changes to viewers",
		Long: `Serves the processed image directory, streams add, remove, reshuffle and
config-update events to connected viewers, and exposes the admin API.

The config file is created with defaults if it does not exist and is reloaded
whenever another process edits it.`,
		Example: `  # Serve with ./config.json
  slidesync serve

  # Serve a specific config on another address
  slidesync serve -c /srv/slides/config.json --addr 127.0.0.1:8080`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (defaults to :<port> from config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	addr, _ := cmd.Flags().GetString("addr")
	logger := logging.NewLogger("serve")

	store, err := config.Load(opts.ConfigPath())
	if err != nil {
		return err
	}
	snap := store.Read()

	stateDir := snap.Resolve(snap.StateDir)
	pidPath := pidfile.Path(stateDir, "serve")
	if err := pidfile.Acquire(pidPath, "serve"); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.WithError(err).Error("Failed to release pidfile")
		}
	}()

	imageDir := snap.Resolve(snap.ImagePath)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return apperrors.TransientIO("create dir", imageDir, err)
	}

	markers, err := sentinel.NewFileMarkers(stateDir)
	if err != nil {
		return err
	}
	jobs := sentinel.New(markers)
	h := hub.New(hub.DefaultQueueSize)

	eng, err := engine.New(h, snap, logging.NewLogger("engine"))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid image filter")
	}
	col, err := collector.New("images", eng.Dir(), collector.Options{
		UsePolling: snap.Watch.UsePolling,
		Interval:   snap.PollDuration(),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientIO, "cannot watch image directory").
			WithDetail("path", eng.Dir())
	}
	eng.Register(col)

	store.OnChange(func(old, new *config.Snapshot, changes config.ChangeSet) {
		if changes.Any() {
			eng.Reconfigure(new)
		}
		if new.ImagePath != old.ImagePath || new.Port != old.Port {
			logger.Warn("imagePath and port changes take effect after a restart")
		}
	})
	// Admin API updates request their own job; edits made on disk are
	// handled here.
	store.OnExternalChange(func(old, new *config.Snapshot, changes config.ChangeSet) {
		metrics.ConfigReloads.WithLabelValues("applied").Inc()
		requested, err := jobs.RequestOnGeometryChange(context.Background(), changes)
		switch {
		case apperrors.Is(err, apperrors.ErrCodeJobConflict):
			logger.Warn("Output geometry changed while a reprocessing job is in flight")
		case err != nil:
			logger.WithError(err).Error("Failed to request reprocessing")
		case requested:
			logger.Info("Output geometry changed, reprocessing requested")
		}
	})
	store.OnReloadError(func(err error) {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
	})

	srv := server.New(logging.NewLogger("server"), h, store, jobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return store.Watch(gctx) })
	g.Go(func() error {
		err := srv.ListenAndServe(addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		notifyStopping(logger)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.WithField("pid", os.Getpid()).Info("Starting server")
	notifyReady(logger)
	return g.Wait()
}
