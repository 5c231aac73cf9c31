// Command build-media-database rebuilds the SQLite query index
// (internal/dbindex) from the per-directory JSON caches under a scan
// root, optionally pruning cache entries for files that no longer
// exist first.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wildardoc/mediabox/internal/cache"
	"github.com/wildardoc/mediabox/internal/dbindex"
	"github.com/wildardoc/mediabox/internal/logger"
)

func main() {
	var (
		scanDir string
		force   bool
		cleanup bool
		stats   bool
		dbPath  string
	)

	root := &cobra.Command{
		Use:           "build-media-database",
		Short:         "Rebuild the query index from the JSON transcode caches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scanDir == "" {
				return fmt.Errorf("--scan is required")
			}
			logger.Init("info")

			if _, err := os.Stat(dbPath); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to rebuild it", dbPath)
			}

			if cleanup {
				removed, err := cleanupTree(scanDir)
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}
				logger.Info("cleanup removed stale cache entries", "count", removed)
			}

			idx, err := dbindex.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer idx.Close()

			count, err := idx.Rebuild([]string{scanDir})
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			logger.Info("index rebuilt", "entries", count, "db", dbPath)

			if stats {
				s, err := idx.Stats()
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				fmt.Printf("total: %d  hdr: %d  needs_conversion: %d  conversion_errors: %d\n",
					s.Total, s.HDRCount, s.NeedsConversion, s.ConversionErrors)
			}
			return nil
		},
	}

	root.Flags().StringVar(&scanDir, "scan", "", "Directory tree to scan for .mediabox_cache.json files")
	root.Flags().BoolVar(&force, "force", false, "Rebuild even if the index database already exists")
	root.Flags().BoolVar(&cleanup, "cleanup", false, "Prune cache entries for files that no longer exist before rebuilding")
	root.Flags().BoolVar(&stats, "stats", false, "Print aggregate stats after rebuilding")
	root.Flags().StringVar(&dbPath, "db", "mediabox_index.db", "Path to the SQLite index database")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cleanupTree runs cache.Cleanup against every directory under root
// that holds a cache file — Cleanup itself only looks at one
// directory at a time.
func cleanupTree(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		removed, cerr := cache.Cleanup(p)
		if cerr != nil {
			logger.Warn("cleanup failed for directory", "dir", p, "error", cerr)
			return nil
		}
		total += removed
		return nil
	})
	return total, err
}
