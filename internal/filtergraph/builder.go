// Package filtergraph assembles the single deterministic ffmpeg
// invocation described by a mediatypes.TransformPlan. It never invokes
// ffmpeg itself — Build returns an argv that the Transcode Runner
// executes as a subprocess, which keeps the argument-construction
// logic unit-testable without a real ffmpeg/ffprobe on PATH.
package filtergraph

import (
	"fmt"
	"strings"

	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/ffmpeg"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// tonemapFilterChain is the exact zscale/tonemap/zscale chain named by
// the spec for HDR-to-SDR conversion.
const tonemapFilterChain = "zscale=t=linear:npl=100,format=gbrpf32le,zscale=p=bt709,tonemap=tonemap=%s:desat=0,zscale=t=bt709:m=bt709:r=tv,format=yuv420p"

// channelmapRepair is the filter applied to a 5.1 stream whose
// channel_layout is absent, mapping the raw 6 channels onto the
// standard 5.1 position names ffmpeg's encoders expect.
const channelmapRepair = "channelmap=0-FL|1-FR|2-FC|3-LFE|4-BL|5-BR:channel_layout=5.1"

// pan71to51 synthesizes 5.1 from a 7.1 source, folding channels 6 and 7
// (the side pair in ffmpeg's 7.1 order) into the 5.1 back channels 4
// and 5 at -3dB (0.7).
const pan71to51 = "pan=5.1|c0=c0|c1=c1|c2=c2|c3=c3|c4=c4+0.7*c6|c5=c5+0.7*c7"

// enhancedStereoPan downmixes a >=6-channel source to stereo, weighting
// the center channel (c2) at 0.5 for dialogue clarity and mixing in the
// surround channels (c4/c5); the LFE channel (c3) is not used.
const enhancedStereoPan = "pan=stereo|c0=0.35*c0+0.5*c2+0.25*c4|c1=0.35*c1+0.5*c2+0.25*c5"

// enhancedStereoCompressor follows the pan in the spec's enhanced
// stereo chain, taming the peaks the pan's gain boosts introduce.
const enhancedStereoCompressor = "acompressor=level_in=1.5:threshold=0.1:ratio=6:attack=20:release=250"

// Result is the assembled ffmpeg invocation.
type Result struct {
	// Args is the full ffmpeg argv, excluding the "ffmpeg" executable
	// name itself and the final output path (appended by the caller,
	// which owns the temp-path naming convention).
	Args []string
}

// Build assembles the ffmpeg argv for plan against the probed source.
// encoder is the video encoder name ("libx264" or a hardware h264_*
// variant) the Hardware Encoder Selector chose; it is ignored for the
// tonemap and downgrade paths, which always force libx264 per the
// spec's software-filter requirement.
func Build(cfg *config.Config, probe *mediatypes.ProbeSummary, plan *mediatypes.TransformPlan, inputPath string, encoder string) (*Result, error) {
	var args []string

	args = append(args, "-i", inputPath, "-y")

	videoArgs, err := buildVideo(probe, plan, encoder, cfg.TonemapAlgorithm)
	if err != nil {
		return nil, err
	}
	args = append(args, videoArgs...)

	audioArgs, err := buildAudio(plan)
	if err != nil {
		return nil, err
	}
	args = append(args, audioArgs...)

	args = append(args, buildSubtitleArgs(probe)...)
	args = append(args, "-map_metadata", "0", "-map_chapters", "0")
	args = append(args, "-movflags", "+faststart")

	return &Result{Args: args}, nil
}

func buildVideo(probe *mediatypes.ProbeSummary, plan *mediatypes.TransformPlan, encoder string, tonemapAlgorithm string) ([]string, error) {
	v := probe.PrimaryVideo()

	if plan.CopyVideo {
		return []string{"-map", "0:v:0", "-c:v", "copy"}, nil
	}

	if !plan.ReEncodeVideo {
		// No video stream at all (audio-only input) or nothing to do;
		// the Decision Engine only sets neither flag in that case.
		return nil, nil
	}

	var filters []string
	// ReEncodeVideo for HDR/downgrade always runs in software and
	// always lands on libx264. A plain codec-mismatch re-encode
	// (neither HDR nor downgrade) may use a hardware h264 encoder
	// instead.
	videoEncoder := "libx264"
	if !plan.ToneMapHDR && !plan.DowngradeResolution && encoder != "" {
		videoEncoder = encoder
	}

	if plan.DowngradeResolution {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", plan.TargetWidth, plan.TargetHeight))
	}

	if plan.ToneMapHDR {
		algorithm := tonemapAlgorithm
		if algorithm == "" {
			algorithm = "hable"
		}
		filters = append(filters, fmt.Sprintf(tonemapFilterChain, algorithm))
		videoEncoder = "libx264"
	} else if v != nil && v.PixFmt != "" && v.PixFmt != "yuv420p" {
		filters = append(filters, "format=yuv420p")
	}

	args := []string{"-map", "0:v:0"}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args, "-c:v", videoEncoder)
	if videoEncoder == "libx264" {
		args = append(args, "-preset", "medium", "-crf", "23")
	}
	return args, nil
}

// buildAudio assembles -filter_complex (when any stream needs
// filtering), every -map for an output audio track in order (5.1
// before stereo, per the spec's stream-order convention), -c:a per
// track, and the per-track metadata tags.
//
// asplit discipline: a filter's own OUTPUT label is split only when it
// must feed BOTH a -map target and a further filter — e.g. a
// channelmap-repaired 5.1 track that is also the source for a
// synthesized stereo downmix. A raw demuxer stream reference
// ([0:<index>]) can fan out to multiple filters unsplit, since it is
// not itself a filter output.
func buildAudio(plan *mediatypes.TransformPlan) ([]string, error) {
	if len(plan.AudioStreamsIn) == 0 {
		return nil, nil
	}

	var surround, stereo *mediatypes.AudioStreamPlan
	for i := range plan.AudioStreamsIn {
		a := &plan.AudioStreamsIn[i]
		if a.EmitSurround51 && surround == nil {
			surround = a
		}
		if a.EmitStereo && stereo == nil {
			stereo = a
		}
	}

	// asplit is required only when the stereo downmix is sourced from
	// the same input stream as a surround track that itself needs a
	// channelmap-repair filter: that filter's OUTPUT must feed both
	// the direct -map and the stereo pan filter. Every other source
	// (a raw demuxer stream, or a 7.1 source independently downmixed)
	// can fan out unsplit.
	needsAsplit := surround != nil && stereo != nil &&
		surround.ChannelmapRepair && surround.SourceIndex == stereo.SourceIndex

	var filterParts []string
	var mapArgs []string
	var codecArgs []string
	var metaArgs []string
	outIdx := 0

	surroundRawLabel := "" // set when surround's repaired output is also needed downstream

	for _, a := range plan.AudioStreamsIn {
		switch {
		case a.EmitSurround51:
			in := fmt.Sprintf("[0:%d]", a.SourceIndex)
			title := ""
			switch {
			case a.ChannelmapRepair && needsAsplit:
				repaired := fmt.Sprintf("a%drepair", outIdx)
				splitMap := fmt.Sprintf("a%dmap", outIdx)
				splitDown := fmt.Sprintf("a%ddown", outIdx)
				filterParts = append(filterParts, fmt.Sprintf("%s%s[%s]", in, channelmapRepair, repaired))
				filterParts = append(filterParts, fmt.Sprintf("[%s]asplit[%s][%s]", repaired, splitMap, splitDown))
				mapArgs = append(mapArgs, "-map", "["+splitMap+"]")
				surroundRawLabel = splitDown
				title = "Surround 5.1"
			case a.ChannelmapRepair:
				label := fmt.Sprintf("a%drepair", outIdx)
				filterParts = append(filterParts, fmt.Sprintf("%s%s[%s]", in, channelmapRepair, label))
				mapArgs = append(mapArgs, "-map", "["+label+"]")
				title = "Surround 5.1"
			case a.SourceChannels == 8:
				// 7.1 -> 5.1 synthesis: always a filter, never shared
				// with the (independently-sourced) stereo downmix.
				label := fmt.Sprintf("a%dsynth", outIdx)
				filterParts = append(filterParts, fmt.Sprintf("%s%s[%s]", in, pan71to51, label))
				mapArgs = append(mapArgs, "-map", "["+label+"]")
				title = "Surround 5.1"
			default:
				mapArgs = append(mapArgs, "-map", fmt.Sprintf("0:%d", a.SourceIndex))
			}
			codecOut := a.CodecOut
			if codecOut == "" {
				codecOut = "aac"
			}
			codecArgs = append(codecArgs, fmt.Sprintf("-c:a:%d", outIdx), codecOut)
			metaArgs = append(metaArgs, audioMetadata(outIdx, a, title)...)
			outIdx++

		case a.EmitStereo && a.SourceChannels > 2:
			var in string
			if needsAsplit && surroundRawLabel != "" {
				in = "[" + surroundRawLabel + "]"
			} else {
				in = fmt.Sprintf("[0:%d]", a.SourceIndex)
			}
			label := fmt.Sprintf("a%dstereo", outIdx)
			filterParts = append(filterParts, fmt.Sprintf("%s%s,%s[%s]", in, enhancedStereoPan, enhancedStereoCompressor, label))
			mapArgs = append(mapArgs, "-map", "["+label+"]")
			codecArgs = append(codecArgs, fmt.Sprintf("-c:a:%d", outIdx), "aac")
			metaArgs = append(metaArgs, audioMetadata(outIdx, a, "Stereo (Enhanced)")...)
			outIdx++

		default:
			// Plain pass-through track: a compliant secondary-language
			// or already-compliant stereo track with no enhanced-stereo
			// need. Still mapped so the Builder never silently drops it.
			mapArgs = append(mapArgs, "-map", fmt.Sprintf("0:%d", a.SourceIndex))
			codecOut := a.CodecOut
			if codecOut == "" {
				codecOut = "copy"
			}
			codecArgs = append(codecArgs, fmt.Sprintf("-c:a:%d", outIdx), codecOut)
			metaArgs = append(metaArgs, audioMetadata(outIdx, a, "")...)
			outIdx++
		}
	}

	var args []string
	if len(filterParts) > 0 {
		args = append(args, "-filter_complex", strings.Join(filterParts, ";"))
	}
	args = append(args, mapArgs...)
	args = append(args, codecArgs...)
	args = append(args, metaArgs...)
	return args, nil
}

// audioMetadata builds the language and (for synthesized tracks) title
// metadata args for one output audio track. Every mapped track carries
// an explicit language tag — decideAudio only ever plans eligible
// (English-or-unlabeled) streams, so "eng" is the correct default even
// when no tag fix was needed because filter_complex outputs don't
// inherit the source stream's tags. title is empty for pass-through
// tracks, which carry no synthesized-track title per the spec.
func audioMetadata(outIdx int, a mediatypes.AudioStreamPlan, title string) []string {
	lang := a.LanguageTagFix
	if lang == "" {
		lang = "eng"
	}
	args := []string{fmt.Sprintf("-metadata:s:a:%d", outIdx), "language=" + lang}
	if title != "" {
		args = append(args, fmt.Sprintf("-metadata:s:a:%d", outIdx), "title="+title)
	}
	return args
}

// buildSubtitleArgs maps the text-subtitle streams kept in-container,
// converting them to mov_text for the mp4 target. PGS streams are
// never mapped here — they are pulled to sidecars by the Runner before
// ffmpeg is invoked at all.
func buildSubtitleArgs(probe *mediatypes.ProbeSummary) []string {
	_, keep := ffmpeg.PartitionSubtitles(probe.Subtitle)
	if len(keep) == 0 {
		return nil
	}
	var args []string
	for i, s := range keep {
		args = append(args, "-map", fmt.Sprintf("0:%d", s.Index))
		args = append(args, fmt.Sprintf("-c:s:%d", i), "mov_text")
		if s.Language != "" && !strings.EqualFold(s.Language, "und") {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+s.Language)
		}
	}
	return args
}
