package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/daemon/pidfile"
	"github.com/grovetools/slidesync/internal/ingest"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/logging"
)

// NewIngestCmd returns the ingest process command.
func NewIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Transcode uploads and run reprocessing jobs",
		Long: `Watches preprocessing.rawImagePath, transcodes each upload into the served
directory once it has finished writing, and regenerates every image when a
reprocessing job is requested.

Exits immediately when preprocessing.enabled is false.`,
		RunE: runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	logger := logging.NewLogger("ingest")

	store, err := config.Load(opts.ConfigPath())
	if err != nil {
		return err
	}
	snap := store.Read()
	if !snap.Preprocessing.Enabled {
		logger.Warn("Preprocessing is disabled in config, exiting")
		return nil
	}
	// Fail on a broken command template at startup rather than per file.
	if _, err := ingest.NewCommandTranscoder(snap.Preprocessing.Command); err != nil {
		return err
	}

	stateDir := snap.Resolve(snap.StateDir)
	pidPath := pidfile.Path(stateDir, "ingest")
	if err := pidfile.Acquire(pidPath, "ingest"); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.WithError(err).Error("Failed to release pidfile")
		}
	}()

	markers, err := sentinel.NewFileMarkers(stateDir)
	if err != nil {
		return err
	}
	jobs := sentinel.New(markers)

	// The command is re-read per file so edits apply without a restart.
	transcoder := ingest.TranscoderFunc(func(ctx context.Context, req ingest.Request) error {
		t, err := ingest.NewCommandTranscoder(store.Read().Preprocessing.Command)
		if err != nil {
			return err
		}
		return t.Transcode(ctx, req)
	})
	store.OnExternalChange(func(old, new *config.Snapshot, changes config.ChangeSet) {
		metrics.ConfigReloads.WithLabelValues("applied").Inc()
		if new.Preprocessing.RawImagePath != old.Preprocessing.RawImagePath {
			logger.Warn("rawImagePath changes take effect after a restart")
		}
	})
	store.OnReloadError(func(err error) {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
	})

	w := ingest.New(store, jobs, transcoder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return store.Watch(gctx) })
	g.Go(func() error {
		defer cancel()
		return w.Run(gctx)
	})

	logger.WithField("pid", os.Getpid()).Info("Starting ingest")
	notifyReady(logger)
	err = g.Wait()
	notifyStopping(logger)
	return err
}
