package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/reedfamily/mcwarden/internal/config"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/server"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Classify server log lines and print the events as JSON",
	Long: `Read server output from a log file, or stdin when no file is given, and print one
JSON object per classified line using the configured event types. With --all,
unclassified lines are printed too, with an empty type.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		catalog, err := server.Catalog(cfg)
		if err != nil {
			return err
		}
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		all, _ := cmd.Flags().GetBool("all")
		_, err = decodeLines(in, cmd.OutOrStdout(), cmd.ErrOrStderr(), game.NewDecoder(catalog), all)
		return err
	},
}

func init() {
	decodeCmd.Flags().Bool("all", false, "print unclassified lines too")
}

// decodeLines writes a record for every line of r and returns how many were classified.
// Lines whose arguments fail to convert are reported on errw and skipped.
func decodeLines(r io.Reader, w, errw io.Writer, dec *game.Decoder, all bool) (int, error) {
	enc := json.NewEncoder(w)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for lineNo := 1; sc.Scan(); lineNo++ {
		msg := dec.DecodeString(sc.Text())
		ev, err := dec.Classify(msg)
		var argErr *game.ArgumentError
		switch {
		case errors.As(err, &argErr):
			fmt.Fprintf(errw, "line %d: %v\n", lineNo, err)
			continue
		case err != nil:
			return n, err
		}

		var rec game.Record
		if ev != nil {
			rec = ev.Record()
			n++
		} else if all {
			rec = game.Record{Time: msg.Time.String(), Source: msg.Source, Content: msg.Content, Args: []any{}}
		} else {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return n, err
		}
	}
	return n, sc.Err()
}
