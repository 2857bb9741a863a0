package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/logging"
	"github.com/grovetools/slidesync/pkg/paths"
	"github.com/grovetools/slidesync/pkg/process"
)

// stopGrace is how long a child gets between SIGTERM and SIGKILL.
const stopGrace = 10 * time.Second

// NewRunCmd returns the supervisor command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start serve and ingest together",
		Long: `Starts the serving and ingest processes as children and stops both when
either fails or a signal arrives. Each child also logs to a file under the
state directory, which 'slidesync logs' follows.`,
		RunE: runSupervisor,
	}
}

type child struct {
	name   string
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	logger := logging.NewLogger("run")

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own executable: %w", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var children []*child
	for _, name := range []string{"serve", "ingest"} {
		argv := []string{name, "--config", opts.ConfigPath()}
		if opts.Verbose {
			argv = append(argv, "--verbose")
		}
		c := &child{name: name, cmd: exec.Command(self, argv...), exited: make(chan struct{})}
		c.cmd.Stdout = os.Stdout
		c.cmd.Stderr = os.Stderr
		c.cmd.Env = append(os.Environ(), logging.EnvFile+"="+paths.LogFile(name))
		if err := c.cmd.Start(); err != nil {
			stopAll(logger, children)
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		go func() {
			c.err = c.cmd.Wait()
			close(c.exited)
		}()
		logger.WithFields(logrus.Fields{"process": name, "pid": c.cmd.Process.Pid}).Info("Started")
		children = append(children, c)
	}

	serve, ingest := children[0], children[1]
	ingestExited := ingest.exited
	for {
		select {
		case <-ctx.Done():
			logger.Info("Received stop signal")
			stopAll(logger, children)
			return nil
		case <-serve.exited:
			stopAll(logger, children)
			if serve.err != nil {
				return fmt.Errorf("serve exited: %w", serve.err)
			}
			return nil
		case <-ingestExited:
			if ingest.err == nil {
				// Preprocessing disabled; keep serving.
				logger.Info("Ingest exited, serving only")
				ingestExited = nil
				continue
			}
			stopAll(logger, children)
			return fmt.Errorf("ingest exited: %w", ingest.err)
		}
	}
}

func stopAll(logger *logrus.Entry, children []*child) {
	for _, c := range children {
		select {
		case <-c.exited:
			continue
		default:
		}
		if err := process.Stop(c.cmd.Process, stopGrace, c.exited); err != nil {
			logger.WithField("process", c.name).WithError(err).Warn("Failed to stop")
		}
	}
}
