// Command media-update runs the Transcode Runner's ten-step protocol
// against a single file or every video file in a directory tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/decision"
	"github.com/wildardoc/mediabox/internal/logger"
	"github.com/wildardoc/mediabox/internal/notifier"
	"github.com/wildardoc/mediabox/internal/runner"
)

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true,
	".wmv": true, ".m4v": true, ".ts": true, ".flv": true,
}

func main() {
	var (
		filePath            string
		dirPath             string
		mediaType           string
		forceStereo         bool
		downgradeResolution bool
		configPath          string
	)

	root := &cobra.Command{
		Use:           "media-update",
		Short:         "Decide and execute the transcode plan for one file or a directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" && dirPath == "" {
				return exitError(runner.ExitUnrecoverable, errors.New("one of --file or --dir is required"))
			}
			if mediaType != "" && mediaType != "video" && mediaType != "audio" && mediaType != "both" {
				return exitError(runner.ExitUnrecoverable, fmt.Errorf("invalid --type %q: want video, audio, or both", mediaType))
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return exitError(runner.ExitUnrecoverable, fmt.Errorf("load config: %w", err))
			}
			logger.Init(cfg.LogLevel)

			if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
				return exitError(runner.ExitUnrecoverable, fmt.Errorf("ffmpeg not found: %w", err))
			}
			if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
				return exitError(runner.ExitUnrecoverable, fmt.Errorf("ffprobe not found: %w", err))
			}

			opts := runner.Options{
				ForceStereo:         forceStereo,
				DowngradeResolution: downgradeResolution,
				Type:                mediaType,
			}

			var targets []string
			if filePath != "" {
				targets = []string{filePath}
			} else {
				targets, err = collectVideoFiles(dirPath)
				if err != nil {
					return exitError(runner.ExitUnrecoverable, fmt.Errorf("walk %s: %w", dirPath, err))
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n := notifier.New(cfg)
			worstExit := runner.ExitOK
			for _, path := range targets {
				exit := runOne(ctx, cfg, n, path, opts)
				if exit > worstExit {
					worstExit = exit
				}
			}
			if worstExit != runner.ExitOK {
				os.Exit(worstExit)
			}
			return nil
		},
	}

	root.Flags().StringVar(&filePath, "file", "", "Transcode a single file")
	root.Flags().StringVar(&dirPath, "dir", "", "Transcode every video file under this directory")
	root.Flags().StringVar(&mediaType, "type", "both", "Which tracks to process: video, audio, or both")
	root.Flags().BoolVar(&forceStereo, "force-stereo", false, "Force a synthesized stereo downmix for every surround track")
	root.Flags().BoolVar(&downgradeResolution, "downgrade-resolution", false, "Downscale video above 1080p to 1080p")
	root.Flags().StringVar(&configPath, "config", "config/mediabox.json", "Path to the engine config file")

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runner.ExitUnrecoverable)
	}
}

// runOne runs the Runner against one file and returns the CLI exit
// code matching the external interface table, logging but never
// aborting a --dir batch on a single file's failure.
func runOne(ctx context.Context, cfg *config.Config, n *notifier.Notifier, path string, opts runner.Options) int {
	result, err := runner.Run(ctx, cfg, path, opts)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrLocked):
			logger.Warn("skipped, locked by another worker", "path", path, "error", err)
			return runner.ExitLocked
		case errors.Is(err, decision.ErrNoEnglishAudio):
			logger.Info("skipped, no English audio track", "path", path)
			return runner.ExitNoEnglishAudio
		case errors.Is(err, runner.ErrTranscodeFailed), errors.Is(err, runner.ErrValidationFailed):
			logger.Error("transcode failed", "path", path, "error", err)
			return runner.ExitTranscodeFailure
		default:
			logger.Error("unrecoverable error", "path", path, "error", err)
			return runner.ExitUnrecoverable
		}
	}

	if !result.Skipped {
		logger.Info("transcode complete", "path", result.FinalPath, "action", result.Action, "duration", result.Duration)
		n.Notify(ctx, result.FinalPath)
	}
	return runner.ExitOK
}

func collectVideoFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if videoExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }

func exitError(code int, err error) error {
	return &exitErr{code: code, err: err}
}
