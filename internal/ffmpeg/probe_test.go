package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wildardoc/mediabox/internal/mediatypes"
)

func TestParseProbeOutputBasicFields(t *testing.T) {
	raw := []byte(`{
		"format": {"duration": "1234.5", "bit_rate": "8000000", "format_name": "matroska,webm"},
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
			 "pix_fmt": "yuv420p", "color_transfer": "bt709"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "channels": 2,
			 "channel_layout": "stereo", "tags": {"language": "eng"}}
		]
	}`)

	summary, err := parseProbeOutput(raw)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if summary.Duration != 1234.5 {
		t.Errorf("Duration = %v, want 1234.5", summary.Duration)
	}
	if summary.Bitrate != 8000000 {
		t.Errorf("Bitrate = %v, want 8000000", summary.Bitrate)
	}
	if len(summary.Video) != 1 || summary.Video[0].Codec != "h264" {
		t.Fatalf("unexpected video streams: %+v", summary.Video)
	}
	if summary.Video[0].HDRType != mediatypes.HDRNone {
		t.Errorf("HDRType = %v, want none", summary.Video[0].HDRType)
	}
	if len(summary.Audio) != 1 || summary.Audio[0].ChannelLayout != "stereo" {
		t.Fatalf("unexpected audio streams: %+v", summary.Audio)
	}
	if !summary.Audio[0].ChannelLayoutPresent {
		t.Error("expected ChannelLayoutPresent=true when channel_layout is set")
	}
}

func TestParseProbeOutputHDRDetection(t *testing.T) {
	cases := []struct {
		name           string
		colorTransfer  string
		colorPrimaries string
		bitsPerSample  string
		sideData       string
		want           mediatypes.HDRType
	}{
		{"smpte2084 is HDR10", "smpte2084", "bt2020", "10", "", mediatypes.HDR10},
		{"arib-std-b67 is HLG", "arib-std-b67", "bt2020", "10", "", mediatypes.HLG},
		{"bt709 is not HDR", "bt709", "bt709", "8", "", mediatypes.HDRNone},
		{"missing transfer but bt2020+10bit is HDR10 fallback", "", "bt2020", "10", "", mediatypes.HDR10},
		{"missing transfer and 8-bit is not HDR", "", "bt2020", "8", "", mediatypes.HDRNone},
		{"dolby vision side data wins regardless of transfer", "smpte2084", "bt2020", "10", `,"side_data_list":[{"side_data_type":"DOVI configuration record"}]`, mediatypes.HDRDolbyVision},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := []byte(`{"format":{},"streams":[{"index":0,"codec_type":"video","codec_name":"hevc",` +
				`"color_transfer":"` + c.colorTransfer + `","color_primaries":"` + c.colorPrimaries + `",` +
				`"bits_per_raw_sample":"` + c.bitsPerSample + `"` + c.sideData + `}]}`)

			summary, err := parseProbeOutput(raw)
			if err != nil {
				t.Fatalf("parseProbeOutput: %v", err)
			}
			if got := summary.Video[0].HDRType; got != c.want {
				t.Errorf("HDRType = %v, want %v", got, c.want)
			}
		})
	}
}

func TestParseProbeOutputChannelLayoutAbsentVsUnknown(t *testing.T) {
	absent := []byte(`{"format":{},"streams":[{"index":1,"codec_type":"audio","codec_name":"aac","channels":6}]}`)
	summary, err := parseProbeOutput(absent)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if summary.Audio[0].ChannelLayoutPresent {
		t.Error("expected ChannelLayoutPresent=false when key is absent")
	}

	unknown := []byte(`{"format":{},"streams":[{"index":1,"codec_type":"audio","codec_name":"aac","channels":6,"channel_layout":"unknown"}]}`)
	summary, err = parseProbeOutput(unknown)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if !summary.Audio[0].ChannelLayoutPresent {
		t.Error("expected ChannelLayoutPresent=true for literal 'unknown' value")
	}
	if summary.Audio[0].ChannelLayout != "unknown" {
		t.Errorf("ChannelLayout = %q, want unknown", summary.Audio[0].ChannelLayout)
	}
}

func TestParseProbeOutputInvalidJSON(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestIsVideoFile(t *testing.T) {
	if !IsVideoFile("/media/show/episode.mkv") {
		t.Error("expected .mkv to be a video file")
	}
	if IsVideoFile("/media/show/poster.jpg") {
		t.Error("expected .jpg to not be a video file")
	}
}

func TestProbeDeduplicatesConcurrentCalls(t *testing.T) {
	dir := t.TempDir()
	counterPath := dir + "/calls.log"

	script := "#!/bin/sh\n" +
		"echo x >> " + counterPath + "\n" +
		"sleep 0.2\n" +
		`echo '{"format":{"duration":"10","bit_rate":"1000","format_name":"mp4"},"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"pix_fmt":"yuv420p"}]}'` + "\n"

	fakeProbe := dir + "/fake-ffprobe"
	if err := os.WriteFile(fakeProbe, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(fakeProbe)

	var wg sync.WaitGroup
	results := make([]*mediatypes.ProbeSummary, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = prober.Probe(context.Background(), "same-file.mp4")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Probe[%d]: %v", i, err)
		}
		if results[i] == nil || results[i].Duration != 10 {
			t.Errorf("Probe[%d] = %+v, want Duration=10", i, results[i])
		}
	}

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatalf("read counter log: %v", err)
	}
	lines := strings.Count(string(data), "x")
	if lines != 1 {
		t.Errorf("ffprobe invoked %d times for 5 concurrent identical calls, want 1 (singleflight dedup)", lines)
	}
}

func TestProbeIntegration(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found on PATH")
	}
	testFile := "testdata/test_x264.mkv"
	if _, err := os.Stat(testFile); os.IsNotExist(err) {
		t.Skipf("test file not found: %s", testFile)
	}

	prober := NewProber("ffprobe")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := prober.Probe(ctx, testFile)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if len(summary.Video) == 0 {
		t.Error("expected at least one video stream")
	}
}
