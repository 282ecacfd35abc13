package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reedfamily/mcwarden/internal/config"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/scheduler"
	"github.com/reedfamily/mcwarden/internal/server"
	"github.com/reedfamily/mcwarden/internal/supervisor"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration without starting anything",
	Long: `Validate the configuration: the server jar, heap bounds, custom event types and
schedules. Prints the command line the server would be launched with.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		types, _ := cmd.Flags().GetBool("types")
		return check(cmd.OutOrStdout(), cfg, types)
	},
}

func init() {
	checkCmd.Flags().Bool("types", false, "list every event type and its pattern")
}

func check(w io.Writer, cfg *config.Config, listTypes bool) error {
	sup, err := supervisor.New(server.SupervisorConfig(cfg))
	if err != nil {
		return err
	}
	catalog, err := server.Catalog(cfg)
	if err != nil {
		return err
	}
	for _, sc := range cfg.Schedules {
		if _, err := scheduler.NewJob(sc.Name, sc.Cron, sc.Action, sc.Command); err != nil {
			return err
		}
	}

	custom := 0
	for _, et := range catalog.Types() {
		if et.Custom {
			custom++
		}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "jar:\t%s\n", sup.Config().Executable)
	fmt.Fprintf(tw, "command:\t%s\n", strings.Join(sup.LaunchCommand(cfg.Server.ShowUI), " "))
	fmt.Fprintf(tw, "launcher:\t%s\n", cfg.Server.Launcher)
	fmt.Fprintf(tw, "event types:\t%d (%d custom)\n", len(catalog.Types()), custom)
	for _, sc := range cfg.Schedules {
		fmt.Fprintf(tw, "schedule:\t%s\t%s\t%s\n", sc.Name, sc.Cron, sc.Action)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if listTypes {
		return writeTypes(w, catalog)
	}
	return nil
}

func writeTypes(w io.Writer, catalog *game.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tARGS\tPATTERN")
	for _, et := range catalog.Types() {
		tags := make([]string, len(et.Args))
		for i, t := range et.Args {
			tags[i] = t.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", et.ID, strings.Join(tags, ","), et.Pattern())
	}
	return tw.Flush()
}
