// Package decision implements the Decision Engine (C4): given a
// normalized ProbeSummary and the user-supplied flags, compute the
// TransformPlan the Filter-Graph Builder needs. It performs no I/O —
// every call with the same inputs produces the same plan.
package decision

import (
	"sort"
	"strings"

	"github.com/wildardoc/mediabox/internal/ffmpeg"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// Flags are the user-controllable switches that affect the plan.
type Flags struct {
	ForceStereo         bool
	DowngradeResolution bool
}

// Decide computes the TransformPlan for probe under flags. destBase is
// the destination path without extension, used only to compute PGS
// sidecar output paths — it does not otherwise affect the plan.
func Decide(probe *mediatypes.ProbeSummary, flags Flags, destBase string) (*mediatypes.TransformPlan, error) {
	plan := &mediatypes.TransformPlan{ContainerTarget: "mp4"}

	decideVideo(probe, flags, plan)

	audioPlans, err := decideAudio(probe, flags)
	if err != nil {
		return nil, err
	}
	plan.AudioStreamsIn = audioPlans

	plan.SubtitleExtract = decideSubtitles(probe, destBase)

	plan.DominantAction = dominantAction(plan)
	return plan, nil
}

func decideVideo(probe *mediatypes.ProbeSummary, flags Flags, plan *mediatypes.TransformPlan) {
	v := probe.PrimaryVideo()
	if v == nil {
		return
	}

	if !strings.EqualFold(v.Codec, "h264") {
		plan.ReEncodeVideo = true
	}

	if flags.DowngradeResolution && v.Height > 1080 {
		plan.DowngradeResolution = true
		plan.ReEncodeVideo = true
		ar := float64(v.Width) / float64(v.Height)
		plan.TargetHeight = 1080
		w := int(1080*ar + 0.5)
		if w%2 != 0 {
			w++
		}
		plan.TargetWidth = w
	}

	if v.HDRType != mediatypes.HDRNone {
		plan.ToneMapHDR = true
		plan.ReEncodeVideo = true
		return
	}

	if !plan.ReEncodeVideo {
		if isCompliantPixFmt(v.PixFmt) {
			plan.CopyVideo = true
		} else {
			plan.ReEncodeVideo = true
		}
	}
}

func isCompliantPixFmt(pixFmt string) bool {
	return pixFmt == "yuv420p"
}

// decideAudio implements §4.4's per-stream audio rules. It only
// returns an English-or-unlabeled ErrNoEnglishAudio error; all other
// decisions are expressed as zero-or-more AudioStreamPlan entries —
// a file with no audio streams yields a nil slice, while already
// compliant tracks appear as pass-through entries (NeedsProcessing
// false) so the Builder still maps them.
func decideAudio(probe *mediatypes.ProbeSummary, flags Flags) ([]mediatypes.AudioStreamPlan, error) {
	eligible := FilterEligibleAudio(probe.Audio)
	if len(eligible) == 0 && len(probe.Audio) > 0 {
		return nil, ErrNoEnglishAudio
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	byChannels := groupByChannels(eligible)

	var plans []mediatypes.AudioStreamPlan

	surround51, has51 := pickPrimary(byChannels[6])
	surround71, has71 := pickPrimary(byChannels[8])
	stereo, hasStereo := pickPrimary(byChannels[2])

	switch {
	case has51:
		plans = append(plans, planSurroundRepair(surround51))
	case has71:
		// Rule 3: synthesize 5.1 from 7.1 when no 5.1 track exists.
		plans = append(plans, mediatypes.AudioStreamPlan{
			SourceIndex:     surround71.Index,
			SourceChannels:  8,
			SourceLayout:    layoutOf(surround71),
			EmitSurround51:  true,
			NeedsProcessing: true,
			LanguageTagFix:  languageTagFix(surround71),
			CodecOut:        "aac",
		})
	}

	// Rule 4: enhanced stereo.
	needStereo := flags.ForceStereo || (!hasStereo && (has51 || has71))
	switch {
	case needStereo:
		source := pickStereoSource(surround51, has51, surround71, has71)
		if source != nil {
			plans = append(plans, mediatypes.AudioStreamPlan{
				SourceIndex:     source.Index,
				SourceChannels:  source.Channels,
				SourceLayout:    layoutOf(*source),
				EmitStereo:      true,
				NeedsProcessing: true,
				LanguageTagFix:  languageTagFix(*source),
				CodecOut:        "aac",
			})
		}
	case hasStereo:
		plans = append(plans, planStereoPreserve(stereo))
	}

	return plans, nil
}

// planSurroundRepair builds the AudioStreamPlan entry for an existing
// 5.1 track: NeedsProcessing is set whenever the track requires any
// form of repair (missing channel_layout, a literal "unknown" layout,
// a non-aac codec, or a language tag fix); otherwise it is a pure
// passthrough entry so the Builder still knows to map it.
func planSurroundRepair(s mediatypes.AudioStream) mediatypes.AudioStreamPlan {
	repairNeeded := !s.ChannelLayoutPresent
	unknownLayout := s.ChannelLayoutPresent && strings.EqualFold(s.ChannelLayout, "unknown")
	codecNeedsReencode := !strings.EqualFold(s.Codec, "aac") && !unknownLayout
	langFix := languageTagFix(s)

	codecOut := "aac"
	if unknownLayout || (!codecNeedsReencode && !repairNeeded) {
		codecOut = "copy"
	}

	return mediatypes.AudioStreamPlan{
		SourceIndex:      s.Index,
		SourceChannels:   6,
		SourceLayout:     layoutOf(s),
		EmitSurround51:   true,
		ChannelmapRepair: repairNeeded,
		StreamCopy:       unknownLayout,
		NeedsProcessing:  repairNeeded || unknownLayout || codecNeedsReencode || langFix != "",
		LanguageTagFix:   langFix,
		CodecOut:         codecOut,
	}
}

func planStereoPreserve(s mediatypes.AudioStream) mediatypes.AudioStreamPlan {
	codecNeedsReencode := !strings.EqualFold(s.Codec, "aac")
	langFix := languageTagFix(s)
	codecOut := "aac"
	if !codecNeedsReencode {
		codecOut = "copy"
	}
	return mediatypes.AudioStreamPlan{
		SourceIndex:     s.Index,
		SourceChannels:  2,
		SourceLayout:    layoutOf(s),
		EmitStereo:      true,
		NeedsProcessing: codecNeedsReencode || langFix != "",
		LanguageTagFix:  langFix,
		CodecOut:        codecOut,
	}
}

func pickStereoSource(s51 mediatypes.AudioStream, has51 bool, s71 mediatypes.AudioStream, has71 bool) *mediatypes.AudioStream {
	if has51 {
		return &s51
	}
	if has71 {
		return &s71
	}
	return nil
}

func layoutOf(s mediatypes.AudioStream) string {
	if !s.ChannelLayoutPresent {
		return "unknown"
	}
	return s.ChannelLayout
}

// languageTagFix implements rule 5: a stream with a recognizable
// English title but a missing/und language code gets "eng".
func languageTagFix(s mediatypes.AudioStream) string {
	lang := strings.ToLower(strings.TrimSpace(s.Language))
	if lang != "" && lang != "und" {
		return ""
	}
	title := strings.ToLower(s.Title)
	if strings.Contains(title, "english") || strings.Contains(title, "eng") {
		return "eng"
	}
	return ""
}

// FilterEligibleAudio returns audio streams whose language is English
// or unlabeled ("" or "und"). Shared with the Filter-Graph Builder so
// both stages agree on which streams are mappable at all.
func FilterEligibleAudio(streams []mediatypes.AudioStream) []mediatypes.AudioStream {
	var out []mediatypes.AudioStream
	for _, s := range streams {
		lang := strings.ToLower(strings.TrimSpace(s.Language))
		if lang == "" || lang == "und" || lang == "eng" {
			out = append(out, s)
		}
	}
	return out
}

func groupByChannels(streams []mediatypes.AudioStream) map[int][]mediatypes.AudioStream {
	groups := map[int][]mediatypes.AudioStream{}
	for _, s := range streams {
		groups[s.Channels] = append(groups[s.Channels], s)
	}
	return groups
}

// pickPrimary resolves the Open Question on tie-breaking between
// multiple eligible streams of the same channel count: prefer the
// default-flagged stream, then the lowest source index. (No per-stream
// bitrate is available at the ProbeSummary level, so bitrate is not
// part of the ordering here.)
func pickPrimary(streams []mediatypes.AudioStream) (mediatypes.AudioStream, bool) {
	if len(streams) == 0 {
		return mediatypes.AudioStream{}, false
	}
	sorted := append([]mediatypes.AudioStream(nil), streams...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Default != sorted[j].Default {
			return sorted[i].Default
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted[0], true
}

func decideSubtitles(probe *mediatypes.ProbeSummary, destBase string) []mediatypes.SubtitleExtractPlan {
	extract, _ := ffmpeg.PartitionSubtitles(probe.Subtitle)
	if len(extract) == 0 {
		return nil
	}
	plans := make([]mediatypes.SubtitleExtractPlan, 0, len(extract))
	for _, s := range extract {
		plans = append(plans, mediatypes.SubtitleExtractPlan{
			StreamIndex: s.Index,
			Language:    s.Language,
			Forced:      s.Forced,
			OutPath:     ffmpeg.SidecarPath(destBase, s),
		})
	}
	return plans
}

func dominantAction(plan *mediatypes.TransformPlan) mediatypes.Action {
	switch {
	case plan.ToneMapHDR:
		return mediatypes.ActionNeedsHDRTonemap
	case plan.DowngradeResolution, plan.ReEncodeVideo:
		return mediatypes.ActionNeedsVideoConversion
	}
	needsAudioWork := false
	for _, a := range plan.AudioStreamsIn {
		if !a.NeedsProcessing {
			continue
		}
		needsAudioWork = true
		switch {
		case a.ChannelmapRepair:
			return mediatypes.ActionNeedsChannelmapFix
		case a.EmitSurround51 && a.SourceChannels == 8:
			return mediatypes.ActionNeeds51From71
		case a.EmitStereo:
			return mediatypes.ActionNeedsStereoTrack
		case a.LanguageTagFix != "":
			return mediatypes.ActionNeedsAudioMetadataFix
		}
	}
	if needsAudioWork {
		return mediatypes.ActionNeedsAudioConversion
	}
	return mediatypes.ActionSkip
}
