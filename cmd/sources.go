package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/massfinder/parish-ingest/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, _ := cmd.Flags().GetString("sources-file")
		list, err := loadSources(cfg, file, nil)
		if err != nil {
			return err
		}
		formatSources(os.Stdout, list, newRegistry(nil).Names())
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("sources-file", "", "source list YAML (default from config, then built-in)")
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources lists sources, flagging those whose extractor is not
// registered.
func formatSources(out io.Writer, list []model.Source, extractors []string) {
	known := make(map[string]bool, len(extractors))
	for _, n := range extractors {
		known[n] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tREGION\tEXTRACTOR\tREADY\tENDPOINT")
	_, _ = fmt.Fprintln(w, "----\t------\t---------\t-----\t--------")
	for _, s := range list {
		ready := "no"
		if known[s.ExtractorID] {
			ready = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Region, s.ExtractorID, ready, s.Endpoint)
	}
	_ = w.Flush()
}
