package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/config"
	"github.com/reedfamily/mcwarden/internal/logging"
)

var (
	cfgFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "mcwarden",
	Short: "Minecraft server supervisor",
	Long: `mcwarden runs a Minecraft Java server, turns its console output into typed events
and keeps backups, schedules, notifications and an HTTP console running next to it.

Configuration comes from mcwarden.yaml in the working directory or the file given
with --config. Any key can be overridden with an MCWARDEN_* environment variable,
for example MCWARDEN_SERVER_EXECUTABLE=/srv/minecraft/server.jar.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ReadFile(v, cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./mcwarden.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	rootCmd.PersistentFlags().StringP("jar", "j", "", "server jar, overrides server.executable")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	_ = v.BindPFlag("server.executable", rootCmd.PersistentFlags().Lookup("jar"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(decodeCmd)
}

// load validates the configuration and builds the logger every command starts from.
func load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
