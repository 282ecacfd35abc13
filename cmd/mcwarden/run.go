package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/instance"
	"github.com/reedfamily/mcwarden/internal/server"
	"github.com/reedfamily/mcwarden/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Minecraft server in the foreground",
	Long: `Run the Minecraft server attached to this terminal. Its output is printed as it
arrives and every line typed is sent to its console. Schedules, backups and
notifications run as they would under serve, without the HTTP API.

The command returns when the server exits and no restart is pending. An interrupt
stops the server gracefully; a second one kills it.`,
	RunE: runForeground,
}

func runForeground(cmd *cobra.Command, args []string) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	srv, err := server.New(ctx, cfg, log, server.Options{})
	if err != nil {
		return err
	}
	inst := srv.Instance()

	done := make(chan *supervisor.Exit, 1)
	var once sync.Once
	inst.OnExit(func(exit *supervisor.Exit) {
		if exit.Requested || !cfg.Server.AutoRestart {
			once.Do(func() { done <- exit })
		}
	})

	lines := srv.Hub().Subscribe()
	defer srv.Hub().Unsubscribe(lines)
	go func() {
		out := cmd.OutOrStdout()
		for entry := range lines {
			if entry.Message.Closed() {
				continue
			}
			fmt.Fprintln(out, entry.Message.Raw)
		}
	}()

	srv.StartBackground()
	if err := inst.Start(ctx); err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}
	go forwardInput(cmd.InOrStdin(), inst, log)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	var exit *supervisor.Exit
	select {
	case exit = <-done:
	case <-signals:
		log.Infow("stopping minecraft server")
		go func() {
			<-signals
			log.Warnw("killing minecraft server")
			_ = inst.Kill()
		}()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.StopTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if exit != nil && !exit.Requested && exit.Err != nil {
		return fmt.Errorf("minecraft server exited: %w", exit.Err)
	}
	return nil
}

// forwardInput sends each line read from r to the server console until r ends.
func forwardInput(r io.Reader, inst *instance.Instance, log *zap.SugaredLogger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := inst.Send(sc.Text()); err != nil {
			log.Warnw("send command", "error", err)
		}
	}
}
