package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wildardoc/mediabox/internal/cache"
	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

func baseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxCPUPercent = 80
	cfg.MaxMemoryPercent = 85
	cfg.MaxLoadAverage = 4
	cfg.MaxParallelJobs = 4
	cfg.RampUpIntervalSeconds = 30
	return cfg
}

func TestComputeTargetWorkersRampsUpWhenCalm(t *testing.T) {
	cfg := baseConfig()
	state := sizingState{}
	now := time.Now()

	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 10}, now)
	if state.target != 1 {
		t.Fatalf("first sample target = %d, want 1", state.target)
	}

	now = now.Add(31 * time.Second)
	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 10}, now)
	if state.target != 2 {
		t.Fatalf("after ramp-up interval target = %d, want 2", state.target)
	}
}

func TestComputeTargetWorkersDecrementsOnThresholdExceeded(t *testing.T) {
	cfg := baseConfig()
	state := sizingState{target: 3, calmSince: time.Now(), everSampled: true}

	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 95}, time.Now())
	if state.target != 2 {
		t.Fatalf("target after CPU exceeded = %d, want 2", state.target)
	}
}

func TestComputeTargetWorkersHalvesOnPriorityProcess(t *testing.T) {
	cfg := baseConfig()
	state := sizingState{target: 4, calmSince: time.Now(), everSampled: true}

	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 10, PriorityProcess: true}, time.Now())
	if state.target != 2 {
		t.Fatalf("target after priority process = %d, want 2 (halved from 4)", state.target)
	}
}

func TestComputeTargetWorkersNeverExceedsMaxParallelJobs(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxParallelJobs = 2
	state := sizingState{target: 2, calmSince: time.Now().Add(-time.Hour), everSampled: true}

	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 10}, time.Now())
	if state.target != 2 {
		t.Fatalf("target = %d, want capped at MaxParallelJobs=2", state.target)
	}
}

func TestComputeTargetWorkersNeverGoesNegative(t *testing.T) {
	cfg := baseConfig()
	state := sizingState{target: 0, calmSince: time.Now(), everSampled: true}

	state = computeTargetWorkers(state, cfg, Sample{CPUPercent: 95}, time.Now())
	if state.target != 0 {
		t.Fatalf("target = %d, want floor of 0", state.target)
	}
}

func TestBuildQueueSkipsCachedSkipEntriesAndNonVideoFiles(t *testing.T) {
	dir := t.TempDir()

	skipPath := filepath.Join(dir, "already-done.mkv")
	convertPath := filepath.Join(dir, "needs-work.mkv")
	nonVideoPath := filepath.Join(dir, "poster.jpg")

	for _, p := range []string{skipPath, convertPath, nonVideoPath} {
		if err := os.WriteFile(p, []byte("fake"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.Put(skipPath, &mediatypes.CacheEntry{Action: mediatypes.ActionSkip}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	queue, err := BuildQueue([]string{dir})
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	if len(queue) != 1 || queue[0] != convertPath {
		t.Fatalf("queue = %v, want only %q", queue, convertPath)
	}
}
