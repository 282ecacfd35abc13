package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reedfamily/mcwarden/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and supervise the Minecraft server",
	Long: `Serve the HTTP API, the live console and the metrics endpoint. The Minecraft server
is started through the API, or straight away with --start.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Bool("start", false, "start the Minecraft server on boot")
	_ = v.BindPFlag("http.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log, server.Options{})
	if err != nil {
		return err
	}
	if start, _ := cmd.Flags().GetBool("start"); start {
		if err := srv.Instance().Start(context.WithoutCancel(ctx)); err != nil {
			log.Errorw("start minecraft server", "error", err)
		}
	}
	return srv.Run(ctx)
}
