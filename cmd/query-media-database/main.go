// Command query-media-database answers ad-hoc questions against the
// SQLite index built by build-media-database: which files are HDR,
// which need conversion, a free-text search, or an aggregate summary.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wildardoc/mediabox/internal/dbindex"
)

func main() {
	var (
		dbPath          string
		hdr             bool
		needsConversion bool
		search          string
		resolution      string
		stats           bool
		exportPath      string
		exportJSONPath  string
	)

	root := &cobra.Command{
		Use:           "query-media-database",
		Short:         "Query the media index built by build-media-database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := dbindex.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer idx.Close()

			if stats {
				s, err := idx.Stats()
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				fmt.Printf("total: %d  hdr: %d  needs_conversion: %d  conversion_errors: %d\n",
					s.Total, s.HDRCount, s.NeedsConversion, s.ConversionErrors)
				return nil
			}

			var rows []dbindex.Row
			switch {
			case hdr:
				rows, err = idx.HDR()
			case needsConversion:
				rows, err = idx.NeedsConversion()
			case search != "":
				rows, err = idx.Search(search)
			case resolution != "":
				rows, err = idx.Resolution(resolution)
			default:
				return fmt.Errorf("one of --hdr, --needs-conversion, --search, --resolution, or --stats is required")
			}
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			switch {
			case exportPath != "":
				return exportCSV(exportPath, rows)
			case exportJSONPath != "":
				return exportJSON(exportJSONPath, rows)
			default:
				printRows(rows)
				return nil
			}
		},
	}

	root.Flags().StringVar(&dbPath, "db", "mediabox_index.db", "Path to the SQLite index database")
	root.Flags().BoolVar(&hdr, "hdr", false, "List HDR files")
	root.Flags().BoolVar(&needsConversion, "needs-conversion", false, "List files whose action is not skip")
	root.Flags().StringVar(&search, "search", "", "Free-text search over file name and path")
	root.Flags().StringVar(&resolution, "resolution", "", "Filter by exact resolution, e.g. 1920x1080")
	root.Flags().BoolVar(&stats, "stats", false, "Print the aggregate summary instead of a row listing")
	root.Flags().StringVar(&exportPath, "export", "", "Write matching rows as CSV to this path instead of stdout")
	root.Flags().StringVar(&exportJSONPath, "export-json", "", "Write matching rows as JSON to this path instead of stdout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printRows(rows []dbindex.Row) {
	for _, r := range rows {
		fmt.Printf("%-60s %-12s %-6s %-6s hdr=%s action=%s\n",
			r.FilePath, r.Resolution, r.CodecVideo, r.CodecAudio, strconv.FormatBool(r.IsHDR), r.Action)
	}
}

var csvHeader = []string{
	"file_name", "file_path", "resolution", "codec_video", "codec_audio",
	"is_hdr", "hdr_type", "action", "conversion_count", "last_conversion_duration", "last_conversion_error",
}

func exportCSV(path string, rows []dbindex.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.FileName, r.FilePath, r.Resolution, r.CodecVideo, r.CodecAudio,
			strconv.FormatBool(r.IsHDR), r.HDRType, r.Action,
			strconv.Itoa(r.ConversionCount),
			strconv.FormatFloat(r.LastConversionDuration, 'f', 2, 64),
			r.LastConversionError,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func exportJSON(path string, rows []dbindex.Row) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
