// Command smart-bulk-convert runs the Bulk Scheduler: it walks one or
// more directories, builds a cache-filtered work queue, and keeps an
// adaptively-sized pool of media-update subprocesses busy until the
// queue drains.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/logger"
	"github.com/wildardoc/mediabox/internal/scheduler"
)

func main() {
	var (
		configPath  string
		maxJobs     int
		interval    int
		cpuLimit    float64
		memLimit    float64
		loadLimit   float64
		forceStereo bool
		runnerPath  string
	)

	root := &cobra.Command{
		Use:           "smart-bulk-convert DIR [DIR...]",
		Short:         "Adaptively transcode every eligible file under one or more directories",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, dirs []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.LogLevel)

			if cmd.Flags().Changed("max-jobs") {
				cfg.MaxParallelJobs = maxJobs
			}
			if cmd.Flags().Changed("interval") {
				cfg.CheckIntervalSeconds = interval
			}
			if cmd.Flags().Changed("cpu-limit") {
				cfg.MaxCPUPercent = cpuLimit
			}
			if cmd.Flags().Changed("memory-limit") {
				cfg.MaxMemoryPercent = memLimit
			}
			if cmd.Flags().Changed("load-limit") {
				cfg.MaxLoadAverage = loadLimit
			}
			cfg.TargetDirectories = dirs

			queue, err := scheduler.BuildQueue(dirs)
			if err != nil {
				return fmt.Errorf("build queue: %w", err)
			}
			logger.Info("queue built", "files", len(queue))

			var extraArgs []string
			if forceStereo {
				extraArgs = append(extraArgs, "--force-stereo")
			}

			runnerBinary, err := resolveRunnerBinary(runnerPath)
			if err != nil {
				return err
			}

			sched := scheduler.New(cfg, runnerBinary, extraArgs)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return sched.Run(ctx, queue)
		},
	}

	root.Flags().StringVar(&configPath, "config", "config/mediabox.json", "Path to the engine config file")
	root.Flags().IntVar(&maxJobs, "max-jobs", 0, "Override max_parallel_jobs from the config")
	root.Flags().IntVar(&interval, "interval", 0, "Override check_interval (seconds) from the config")
	root.Flags().Float64Var(&cpuLimit, "cpu-limit", 0, "Override max_cpu_percent from the config")
	root.Flags().Float64Var(&memLimit, "memory-limit", 0, "Override max_memory_percent from the config")
	root.Flags().Float64Var(&loadLimit, "load-limit", 0, "Override max_load_average from the config")
	root.Flags().BoolVar(&forceStereo, "force-stereo", false, "Pass --force-stereo through to every media-update invocation")
	root.Flags().StringVar(&runnerPath, "runner-binary", "", "Path to the media-update binary (default: look up alongside this binary, then $PATH)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveRunnerBinary finds the media-update executable the scheduler
// should exec per file: an explicit override, then a sibling of this
// binary in the same directory, then $PATH.
func resolveRunnerBinary(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "media-update")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("media-update")
	if err != nil {
		return "", fmt.Errorf("media-update not found: pass --runner-binary or put it on PATH: %w", err)
	}
	return path, nil
}
