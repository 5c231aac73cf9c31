// Package runner implements the Transcode Runner (C6): the ten-step
// protocol that takes one media file from lock acquisition through a
// validated, atomically-replaced output and cache update.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wildardoc/mediabox/internal/cache"
	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/decision"
	"github.com/wildardoc/mediabox/internal/ffmpeg"
	"github.com/wildardoc/mediabox/internal/filtergraph"
	"github.com/wildardoc/mediabox/internal/lock"
	"github.com/wildardoc/mediabox/internal/logger"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// Exit codes, matching the external CLI contract for media-update.
const (
	ExitOK               = 0
	ExitUnrecoverable    = 1
	ExitTranscodeFailure = 2
	ExitNoEnglishAudio   = 3
	ExitLocked           = 4
)

// currentProcessingVersion is bumped whenever the Decision Engine or
// Filter-Graph Builder's output would differ for the same input, so
// stale cache entries from a previous build are not trusted.
const currentProcessingVersion = 1

// ErrValidationFailed is returned when the post-transcode ffprobe check
// finds a stream count or duration mismatch against the source.
var ErrValidationFailed = errors.New("transcoded output failed validation")

// ErrTranscodeFailed wraps any ffmpeg subprocess failure.
var ErrTranscodeFailed = errors.New("ffmpeg transcode failed")

// minTimeout is the floor on the wallclock budget given to ffmpeg,
// regardless of how short the source duration is.
const minTimeout = 30 * time.Minute

// timeoutMultiple is how many multiples of the source's own duration
// ffmpeg is given to finish, covering software tonemap's worst case.
const timeoutMultiple = 4

// Options carries the per-invocation flags that affect the plan.
type Options struct {
	ForceStereo         bool
	DowngradeResolution bool
	// Type restricts which half of the plan is allowed to run ffmpeg
	// work: "video" suppresses audio re-encoding (audio streams are
	// stream-copied through unchanged), "audio" suppresses video
	// re-encoding/tonemap/downgrade. "" or "both" applies no filter.
	Type string
}

// applyTypeFilter narrows plan in place per opts.Type, after Decide
// has already computed the full two-track plan. It never adds work,
// only drops a side the caller asked to leave alone.
func applyTypeFilter(plan *mediatypes.TransformPlan, typ string) {
	switch typ {
	case "video":
		for i := range plan.AudioStreamsIn {
			a := &plan.AudioStreamsIn[i]
			a.NeedsProcessing = false
			a.StreamCopy = true
			a.EmitSurround51 = false
			a.EmitStereo = false
			a.ChannelmapRepair = false
			a.LanguageTagFix = ""
			a.CodecOut = "copy"
		}
	case "audio":
		plan.ReEncodeVideo = false
		plan.ToneMapHDR = false
		plan.DowngradeResolution = false
		plan.CopyVideo = true
	}
}

// Result summarizes one completed run for the caller (CLI exit code,
// logging, rescan notification).
type Result struct {
	Skipped   bool
	Action    mediatypes.Action
	FinalPath string
	Duration  time.Duration
}

// ErrLocked is returned when another Runner already holds the file's
// lock and it has not gone stale.
var ErrLocked = errors.New("file is locked by another runner")

// Run executes the full ten-step protocol against path.
func Run(ctx context.Context, cfg *config.Config, path string, opts Options) (*Result, error) {
	l, err := lock.Acquire(path, lock.DefaultStaleAfter)
	if err != nil {
		var held *lock.HeldBy
		if errors.As(err, &held) {
			return nil, fmt.Errorf("%w: %v", ErrLocked, held)
		}
		return nil, err
	}
	defer l.Release()

	if entry, err := cache.Get(path); err == nil && entry.ProcessingVersion == currentProcessingVersion {
		logger.Info("cache hit, skipping", "path", path, "action", entry.Action)
		return &Result{Skipped: true, Action: entry.Action}, nil
	}

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	probe, err := prober.Probe(probeCtx, path)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	destBase := strings.TrimSuffix(path, filepath.Ext(path))
	plan, err := decision.Decide(probe, decision.Flags{
		ForceStereo:         opts.ForceStereo,
		DowngradeResolution: opts.DowngradeResolution,
	}, destBase)
	if err != nil {
		if errors.Is(err, decision.ErrNoEnglishAudio) {
			_ = cache.Put(path, cacheEntryFromProbe(probe, mediatypes.ActionSkipNoEnglish))
			return nil, decision.ErrNoEnglishAudio
		}
		return nil, err
	}

	applyTypeFilter(plan, opts.Type)

	if plan.IsEmpty() {
		_ = cache.Put(path, cacheEntryFromProbe(probe, mediatypes.ActionSkip))
		logger.Info("already compliant, skipping", "path", path)
		return &Result{Skipped: true, Action: mediatypes.ActionSkip}, nil
	}

	if _, err := extractSubtitles(ctx, cfg, path, plan); err != nil {
		logger.Warn("subtitle extraction failed, continuing", "path", path, "error", err)
	}

	encoder := ffmpeg.BestEncoder()
	build, err := filtergraph.Build(cfg, probe, plan, path, encoder)
	if err != nil {
		return nil, fmt.Errorf("build filter graph: %w", err)
	}

	tempPath := destBase + ".mediabox.tmp.mp4"
	start := time.Now()
	if err := runFFmpeg(ctx, cfg, build, tempPath, probe.Duration); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	if err := validate(ctx, cfg, probe, tempPath, len(plan.AudioStreamsIn)); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	oldFP, fperr := cache.Fingerprint(path)
	if fperr != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("fingerprint source before finalize: %w", fperr)
	}

	finalPath, err := finalize(path, tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("finalize: %w", err)
	}

	duration := time.Since(start)
	entry := cacheEntryFromProbe(probe, plan.DominantAction)
	entry.ProcessingVersion = currentProcessingVersion
	if err := cache.UpdateAfter(path, finalPath, oldFP, entry, true, plan.DominantAction, duration.Seconds(), nil); err != nil {
		logger.Warn("cache update failed", "path", finalPath, "error", err)
	}

	return &Result{Action: plan.DominantAction, FinalPath: finalPath, Duration: duration}, nil
}

func cacheEntryFromProbe(probe *mediatypes.ProbeSummary, action mediatypes.Action) *mediatypes.CacheEntry {
	entry := &mediatypes.CacheEntry{
		Duration:          probe.Duration,
		Bitrate:           probe.Bitrate,
		Action:            action,
		ProcessingVersion: currentProcessingVersion,
	}
	if v := probe.PrimaryVideo(); v != nil {
		entry.CodecVideo = v.Codec
		entry.Width = v.Width
		entry.Height = v.Height
		entry.Resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		entry.IsHDR = v.HDRType != "" && v.HDRType != mediatypes.HDRNone
		entry.HDRType = v.HDRType
		entry.ColorTransfer = v.ColorTransfer
		entry.ColorPrimaries = v.ColorPrimaries
		entry.BitDepth = v.BitDepth
	}
	for _, a := range probe.Audio {
		if a.Channels == 2 {
			entry.HasStereoTrack = true
		}
		if a.Channels >= 6 {
			entry.HasSurroundTrack = true
		}
	}
	if len(probe.Audio) > 0 {
		entry.CodecAudio = probe.Audio[0].Codec
		entry.AudioChannels = probe.Audio[0].Channels
		entry.AudioLayout = probe.Audio[0].ChannelLayout
	}
	return entry
}

func extractSubtitles(ctx context.Context, cfg *config.Config, path string, plan *mediatypes.TransformPlan) ([]string, error) {
	var out []string
	var errs []error
	for _, s := range plan.SubtitleExtract {
		args := []string{"-y", "-i", path, "-map", fmt.Sprintf("0:%d", s.StreamIndex), "-c:s", "copy", s.OutPath}
		cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			errs = append(errs, fmt.Errorf("extract subtitle stream %d: %w: %s", s.StreamIndex, err, lastLines(stderr.String(), 5)))
			continue
		}
		out = append(out, s.OutPath)
	}
	return out, errors.Join(errs...)
}

func runFFmpeg(ctx context.Context, cfg *config.Config, build *filtergraph.Result, tempPath string, sourceDuration float64) error {
	timeout := minTimeout
	if sourceDuration > 0 {
		estimated := time.Duration(sourceDuration*timeoutMultiple) * time.Second
		if estimated > timeout {
			timeout = estimated
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, build.Args...), tempPath)
	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(runCtx, cfg.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, lastLines(stderr.String(), 10))
	}
	return nil
}

// validate re-probes the transcoded output and checks its stream
// presence and duration against the source, within a 1-second
// tolerance, per the spec's post-transcode validation step. expectedAudio
// is the number of audio streams the Decision Engine's plan intended to
// emit (plan.AudioStreamsIn), not the raw source count: the plan
// legitimately drops non-English source tracks and a native 7.1 track
// in favor of an existing 5.1, so comparing against the raw source
// count would reject spec-compliant output.
func validate(ctx context.Context, cfg *config.Config, source *mediatypes.ProbeSummary, outPath string, expectedAudio int) error {
	prober := ffmpeg.NewProber(cfg.FFprobePath)
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := prober.Probe(probeCtx, outPath)
	if err != nil {
		return fmt.Errorf("%w: re-probe failed: %v", ErrValidationFailed, err)
	}
	if len(out.Video) == 0 && len(source.Video) > 0 {
		return fmt.Errorf("%w: output has no video stream", ErrValidationFailed)
	}
	if len(out.Audio) < expectedAudio {
		return fmt.Errorf("%w: output has fewer audio streams (%d) than the plan intended (%d)", ErrValidationFailed, len(out.Audio), expectedAudio)
	}
	if math.Abs(out.Duration-source.Duration) > 1.0 {
		return fmt.Errorf("%w: duration mismatch (source %.2fs, output %.2fs)", ErrValidationFailed, source.Duration, out.Duration)
	}
	return nil
}

// finalize performs the atomic replacement: the source is renamed
// aside, the temp output takes the final name, and only then is the
// aside-renamed source removed — so a crash between any two steps
// leaves a recoverable file on disk rather than data loss.
func finalize(sourcePath, tempPath string) (string, error) {
	finalPath := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".mp4"
	asidePath := sourcePath + ".mediabox.old"

	if err := os.Rename(sourcePath, asidePath); err != nil {
		return "", fmt.Errorf("rename source aside: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Rename(asidePath, sourcePath)
		return "", fmt.Errorf("rename temp to final: %w", err)
	}
	if err := os.Remove(asidePath); err != nil {
		logger.Warn("failed to remove aside-renamed original", "path", asidePath, "error", err)
	}
	return finalPath, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
