package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/lock"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

func TestFinalizeRenamesAtomically(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "movie.mkv")
	temp := filepath.Join(dir, "movie.mediabox.tmp.mp4")

	if err := os.WriteFile(source, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(temp, []byte("transcoded"), 0o644); err != nil {
		t.Fatal(err)
	}

	final, err := finalize(source, temp)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final != filepath.Join(dir, "movie.mp4") {
		t.Errorf("final path = %q, want movie.mp4", final)
	}

	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if string(data) != "transcoded" {
		t.Errorf("final content = %q, want transcoded", data)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Errorf("expected source to be gone, stat err = %v", err)
	}
	if _, err := os.Stat(source + ".mediabox.old"); !os.IsNotExist(err) {
		t.Errorf("expected aside-renamed original to be cleaned up, stat err = %v", err)
	}
}

func TestFinalizeRestoresSourceWhenTempMissing(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "movie.mkv")
	missingTemp := filepath.Join(dir, "does-not-exist.mp4")

	if err := os.WriteFile(source, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := finalize(source, missingTemp); err == nil {
		t.Fatal("expected finalize to fail when temp file is missing")
	}

	if _, err := os.Stat(source); err != nil {
		t.Errorf("expected source restored after failed finalize, stat err = %v", err)
	}
}

func TestRunReturnsLockedErrorOnContention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(path, []byte("fake media"), 0o644); err != nil {
		t.Fatal(err)
	}

	held, err := lock.Acquire(path, time.Hour)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	cfg := config.DefaultConfig()
	_, err = Run(context.Background(), cfg, path, Options{})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Run with contended lock = %v, want ErrLocked", err)
	}
}

func TestCacheEntryFromProbeMapsVideoAndAudio(t *testing.T) {
	probe := &mediatypes.ProbeSummary{
		Duration: 120.5,
		Bitrate:  4_000_000,
		Video: []mediatypes.VideoStream{
			{Codec: "hevc", Width: 3840, Height: 2160, HDRType: mediatypes.HDR10, ColorTransfer: "smpte2084"},
		},
		Audio: []mediatypes.AudioStream{
			{Codec: "eac3", Channels: 6, ChannelLayout: "5.1"},
			{Codec: "aac", Channels: 2, ChannelLayout: "stereo"},
		},
	}

	entry := cacheEntryFromProbe(probe, mediatypes.ActionNeedsHDRTonemap)

	if entry.CodecVideo != "hevc" {
		t.Errorf("CodecVideo = %q, want hevc", entry.CodecVideo)
	}
	if entry.Resolution != "3840x2160" {
		t.Errorf("Resolution = %q, want 3840x2160", entry.Resolution)
	}
	if !entry.IsHDR {
		t.Error("expected IsHDR true for HDR10 stream")
	}
	if !entry.HasSurroundTrack {
		t.Error("expected HasSurroundTrack true for 6-channel stream")
	}
	if !entry.HasStereoTrack {
		t.Error("expected HasStereoTrack true for 2-channel stream")
	}
	if entry.Action != mediatypes.ActionNeedsHDRTonemap {
		t.Errorf("Action = %q, want needs_hdr_tonemap", entry.Action)
	}
}

func writeFakeFFprobe(t *testing.T, dir string, videoCount, audioCount int, duration float64) string {
	t.Helper()
	var streams []string
	for i := 0; i < videoCount; i++ {
		streams = append(streams, `{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"pix_fmt":"yuv420p"}`)
	}
	for i := 0; i < audioCount; i++ {
		streams = append(streams, `{"codec_type":"audio","codec_name":"aac","channels":2}`)
	}
	script := "#!/bin/sh\n" +
		`echo '{"format":{"duration":"` + strconv.FormatFloat(duration, 'f', 1, 64) +
		`","bit_rate":"1000","format_name":"mp4"},"streams":[` + strings.Join(streams, ",") + `]}'` + "\n"
	path := filepath.Join(dir, "fake-ffprobe")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateAcceptsOutputWithFewerAudioStreamsThanRawSource(t *testing.T) {
	dir := t.TempDir()
	// Source has 3 raw audio streams (e.g. eng 7.1, eng 5.1, fre stereo);
	// the plan only intended to emit 2 (the 7.1 is dropped in favor of
	// the existing 5.1, the French track is dropped) — output has 2.
	fakeProbe := writeFakeFFprobe(t, dir, 1, 2, 100)
	cfg := &config.Config{FFprobePath: fakeProbe}
	source := &mediatypes.ProbeSummary{
		Duration: 100,
		Video:    []mediatypes.VideoStream{{Codec: "h264"}},
		Audio: []mediatypes.AudioStream{
			{Codec: "eac3", Channels: 8},
			{Codec: "eac3", Channels: 6},
			{Codec: "aac", Channels: 2, Language: "fre"},
		},
	}

	if err := validate(context.Background(), cfg, source, "out.mp4", 2); err != nil {
		t.Errorf("validate: %v, want nil (plan intended only 2 audio streams)", err)
	}
}

func TestValidateRejectsOutputBelowPlannedAudioCount(t *testing.T) {
	dir := t.TempDir()
	fakeProbe := writeFakeFFprobe(t, dir, 1, 1, 100)
	cfg := &config.Config{FFprobePath: fakeProbe}
	source := &mediatypes.ProbeSummary{
		Duration: 100,
		Video:    []mediatypes.VideoStream{{Codec: "h264"}},
		Audio:    []mediatypes.AudioStream{{Codec: "aac", Channels: 2}},
	}

	err := validate(context.Background(), cfg, source, "out.mp4", 2)
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("validate = %v, want ErrValidationFailed", err)
	}
}

func TestLastLinesTrimsToTail(t *testing.T) {
	got := lastLines("a\nb\nc\nd\ne", 2)
	if got != "d | e" {
		t.Errorf("lastLines = %q, want %q", got, "d | e")
	}
}

func TestLastLinesShorterThanLimit(t *testing.T) {
	got := lastLines("only one line", 5)
	if got != "only one line" {
		t.Errorf("lastLines = %q, want unchanged", got)
	}
}

func TestApplyTypeFilterVideoDropsAudioWork(t *testing.T) {
	plan := &mediatypes.TransformPlan{
		ReEncodeVideo: true,
		AudioStreamsIn: []mediatypes.AudioStreamPlan{
			{NeedsProcessing: true, EmitStereo: true, CodecOut: "aac"},
		},
	}
	applyTypeFilter(plan, "video")

	if !plan.ReEncodeVideo {
		t.Error("video-only filter should leave video work untouched")
	}
	a := plan.AudioStreamsIn[0]
	if a.NeedsProcessing || !a.StreamCopy || a.EmitStereo || a.CodecOut != "copy" {
		t.Errorf("audio stream not reduced to stream-copy: %+v", a)
	}
}

func TestApplyTypeFilterAudioDropsVideoWork(t *testing.T) {
	plan := &mediatypes.TransformPlan{
		ReEncodeVideo:       true,
		ToneMapHDR:          true,
		DowngradeResolution: true,
		AudioStreamsIn: []mediatypes.AudioStreamPlan{
			{NeedsProcessing: true, CodecOut: "aac"},
		},
	}
	applyTypeFilter(plan, "audio")

	if plan.ReEncodeVideo || plan.ToneMapHDR || plan.DowngradeResolution || !plan.CopyVideo {
		t.Errorf("audio-only filter should force video to copy: %+v", plan)
	}
	if !plan.AudioStreamsIn[0].NeedsProcessing {
		t.Error("audio-only filter should leave audio work untouched")
	}
}

func TestApplyTypeFilterBothIsNoop(t *testing.T) {
	plan := &mediatypes.TransformPlan{
		ReEncodeVideo: true,
		AudioStreamsIn: []mediatypes.AudioStreamPlan{
			{NeedsProcessing: true, CodecOut: "aac"},
		},
	}
	applyTypeFilter(plan, "both")

	if !plan.ReEncodeVideo || !plan.AudioStreamsIn[0].NeedsProcessing {
		t.Error("both/empty type filter must not alter the plan")
	}
}
