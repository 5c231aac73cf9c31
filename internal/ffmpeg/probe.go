// Package ffmpeg wraps the ffprobe/ffmpeg external tools: probing,
// filter-graph argument assembly helpers, and subprocess execution.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// ErrProbeFailed wraps ffprobe failures: non-zero exit, unparseable
// JSON, or an empty stream list.
type ErrProbeFailed struct {
	Path   string
	Reason string
}

func (e *ErrProbeFailed) Error() string {
	return fmt.Sprintf("probe failed for %s: %s", e.Path, e.Reason)
}

// Prober wraps ffprobe invocation.
type Prober struct {
	ffprobePath string
	group       singleflight.Group
}

// NewProber creates a Prober with the given ffprobe binary path.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// ffprobeOutput mirrors the JSON shape of
// `ffprobe -show_format -show_streams`.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

type ffprobeDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

type ffprobeTags struct {
	Language string `json:"language"`
	Title    string `json:"title"`
}

type ffprobeSideData struct {
	SideDataType string `json:"side_data_type"`
}

type ffprobeStream struct {
	Index            int                `json:"index"`
	CodecType        string             `json:"codec_type"`
	CodecName        string             `json:"codec_name"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	Profile          string             `json:"profile"`
	PixelFormat      string             `json:"pix_fmt"`
	BitsPerRawSample string             `json:"bits_per_raw_sample"`
	ColorTransfer    string             `json:"color_transfer"`
	ColorPrimaries   string             `json:"color_primaries"`
	ColorSpace       string             `json:"color_space"`
	Channels         int                `json:"channels"`
	ChannelLayout    string             `json:"channel_layout"`
	Disposition      ffprobeDisposition `json:"disposition"`
	Tags             ffprobeTags        `json:"tags"`
	SideDataList     []ffprobeSideData  `json:"side_data_list"`
}

// Probe runs ffprobe against path and normalizes the result into a
// mediatypes.ProbeSummary. Concurrent calls for the same path are
// deduplicated via singleflight — grounded on the teacher's
// browse.go, which used the same primitive to collapse concurrent
// directory-browse probes of one file into a single ffprobe exec.
func (p *Prober) Probe(ctx context.Context, path string) (*mediatypes.ProbeSummary, error) {
	v, err, _ := p.group.Do(path, func() (interface{}, error) {
		return p.probeOnce(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*mediatypes.ProbeSummary), nil
}

func (p *Prober) probeOnce(ctx context.Context, path string) (*mediatypes.ProbeSummary, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &ErrProbeFailed{Path: path, Reason: string(exitErr.Stderr)}
		}
		return nil, &ErrProbeFailed{Path: path, Reason: err.Error()}
	}

	summary, err := parseProbeOutput(output)
	if err != nil {
		return nil, &ErrProbeFailed{Path: path, Reason: err.Error()}
	}
	if len(summary.Video) == 0 && len(summary.Audio) == 0 {
		return nil, &ErrProbeFailed{Path: path, Reason: "empty stream list"}
	}
	return summary, nil
}

// parseProbeOutput is the pure, unit-testable core of Probe: it never
// touches the filesystem or a subprocess.
func parseProbeOutput(raw []byte) (*mediatypes.ProbeSummary, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	summary := &mediatypes.ProbeSummary{
		Container: out.Format.FormatName,
	}
	if out.Format.Duration != "" {
		summary.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	if out.Format.BitRate != "" {
		summary.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			bitDepth := 0
			if s.BitsPerRawSample != "" {
				bitDepth, _ = strconv.Atoi(s.BitsPerRawSample)
			}
			if bitDepth == 0 {
				bitDepth = inferBitDepth(s.PixelFormat)
			}
			hasDV := hasDolbyVisionSideData(s.SideDataList)
			vs := mediatypes.VideoStream{
				Index:          s.Index,
				Codec:          s.CodecName,
				Width:          s.Width,
				Height:         s.Height,
				PixFmt:         s.PixelFormat,
				BitDepth:       bitDepth,
				ColorTransfer:  s.ColorTransfer,
				ColorPrimaries: s.ColorPrimaries,
				ColorSpace:     s.ColorSpace,
				HasDVSideData:  hasDV,
			}
			vs.HDRType = detectHDR(hasDV, s.ColorTransfer, s.ColorPrimaries, bitDepth)
			summary.Video = append(summary.Video, vs)
		case "audio":
			summary.Audio = append(summary.Audio, mediatypes.AudioStream{
				Index:                s.Index,
				Codec:                s.CodecName,
				Channels:             s.Channels,
				ChannelLayoutPresent: s.ChannelLayout != "",
				ChannelLayout:        s.ChannelLayout,
				Language:             s.Tags.Language,
				Title:                s.Tags.Title,
				Default:              s.Disposition.Default == 1,
				Forced:               s.Disposition.Forced == 1,
			})
		case "subtitle":
			summary.Subtitle = append(summary.Subtitle, mediatypes.SubtitleStream{
				Index:    s.Index,
				Codec:    s.CodecName,
				Language: s.Tags.Language,
				Forced:   s.Disposition.Forced == 1,
				Title:    s.Tags.Title,
			})
		}
	}

	return summary, nil
}

func hasDolbyVisionSideData(sideData []ffprobeSideData) bool {
	for _, sd := range sideData {
		lower := strings.ToLower(sd.SideDataType)
		if strings.Contains(lower, "dovi") || strings.Contains(lower, "dolby vision") {
			return true
		}
	}
	return false
}

// detectHDR applies the spec's ordered HDR classification: Dolby
// Vision side data first, then HLG by transfer function, then HDR10
// by transfer function or (as a fallback for poorly tagged sources)
// bt2020 primaries at 10-bit or higher.
func detectHDR(hasDV bool, colorTransfer, colorPrimaries string, bitDepth int) mediatypes.HDRType {
	if hasDV {
		return mediatypes.HDRDolbyVision
	}
	transfer := strings.ToLower(colorTransfer)
	if transfer == "arib-std-b67" {
		return mediatypes.HLG
	}
	if transfer == "smpte2084" {
		return mediatypes.HDR10
	}
	if strings.ToLower(colorPrimaries) == "bt2020" && bitDepth >= 10 {
		return mediatypes.HDR10
	}
	return mediatypes.HDRNone
}

// inferBitDepth derives bit depth from the pixel format string when
// ffprobe does not report bits_per_raw_sample directly.
func inferBitDepth(pixFmt string) int {
	if pixFmt == "" {
		return 8
	}
	if strings.Contains(pixFmt, "10le") || strings.Contains(pixFmt, "10be") || strings.Contains(pixFmt, "p010") {
		return 10
	}
	if strings.Contains(pixFmt, "12le") || strings.Contains(pixFmt, "12be") {
		return 12
	}
	return 8
}

// IsVideoFile returns true if the file extension suggests a video
// container this Engine knows how to probe.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	for _, ve := range []string{".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts"} {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}
