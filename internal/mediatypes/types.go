// Package mediatypes holds the data model shared by every component of
// the Engine: the normalized probe result, the per-directory cache
// entry, and the in-memory transform plan the Decision Engine hands to
// the Filter-Graph Builder.
package mediatypes

import "time"

// HDRType enumerates the HDR variants the Probe Adapter distinguishes.
type HDRType string

const (
	HDRNone         HDRType = "none"
	HDR10           HDRType = "HDR10"
	HLG             HDRType = "HLG"
	HDRDolbyVision  HDRType = "DolbyVision"
)

// VideoStream is one normalized video stream from ffprobe output.
type VideoStream struct {
	Index          int
	Codec          string
	Width          int
	Height         int
	PixFmt         string
	BitDepth       int
	ColorTransfer  string
	ColorPrimaries string
	ColorSpace     string
	HDRType        HDRType
	HasDVSideData  bool
}

// AudioStream is one normalized audio stream from ffprobe output.
type AudioStream struct {
	Index                int
	Codec                string
	Channels             int
	ChannelLayoutPresent bool
	// ChannelLayout is the raw layout string, or "unknown" when ffprobe
	// reports the literal value "unknown" rather than omitting the key.
	// The two are distinct: ChannelLayoutPresent=false means the key was
	// absent entirely.
	ChannelLayout string
	Language      string
	Title         string
	Default       bool
	Forced        bool
}

// SubtitleStream is one normalized subtitle stream from ffprobe output.
type SubtitleStream struct {
	Index    int
	Codec    string
	Language string
	Forced   bool
	Title    string
}

// ProbeSummary is the normalized result of running ffprobe against a
// media file.
type ProbeSummary struct {
	Container string
	Duration  float64
	Bitrate   int64

	Video    []VideoStream
	Audio    []AudioStream
	Subtitle []SubtitleStream
}

// PrimaryVideo returns the first video stream, or nil if there is none.
func (p *ProbeSummary) PrimaryVideo() *VideoStream {
	if len(p.Video) == 0 {
		return nil
	}
	return &p.Video[0]
}

// Action tags a cache entry with the dominant reason a file needs
// processing; it drives the Bulk Scheduler's pre-filter.
type Action string

const (
	ActionSkip                   Action = "skip"
	ActionNeedsVideoConversion   Action = "needs_video_conversion"
	ActionNeedsAudioConversion   Action = "needs_audio_conversion"
	ActionNeedsHDRTonemap        Action = "needs_hdr_tonemap"
	ActionNeedsStereoTrack       Action = "needs_stereo_track"
	ActionNeeds51From71          Action = "needs_51_from_71"
	ActionNeedsAudioMetadataFix  Action = "needs_audio_metadata_fix"
	ActionNeedsChannelmapFix     Action = "needs_channelmap_fix"
	ActionSkipNoEnglish          Action = "skip_no_english"
)

// CacheEntry is one record in a DirectoryCache, keyed by Fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	FileName    string    `json:"file_name"`
	FilePath    string    `json:"file_path"` // informational only, not part of identity
	FileSize    int64     `json:"file_size"`
	FileMtime   float64   `json:"file_mtime"`
	LastScanned time.Time `json:"last_scanned"`

	CodecVideo string  `json:"codec_video"`
	CodecAudio string  `json:"codec_audio"`
	Resolution string  `json:"resolution"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Duration   float64 `json:"duration"`
	Bitrate    int64   `json:"bitrate"`

	IsHDR          bool    `json:"is_hdr"`
	HDRType        HDRType `json:"hdr_type"`
	ColorTransfer  string  `json:"color_transfer"`
	ColorPrimaries string  `json:"color_primaries"`
	ColorSpace     string  `json:"color_space"`
	BitDepth       int     `json:"bit_depth"`

	AudioChannels     int    `json:"audio_channels"`
	AudioLayout       string `json:"audio_layout"`
	HasStereoTrack    bool   `json:"has_stereo_track"`
	HasSurroundTrack  bool   `json:"has_surround_track"`

	Action            Action `json:"action"`
	ConversionParams  string `json:"conversion_params,omitempty"`
	ProcessingVersion int    `json:"processing_version"`

	ConversionCount        int     `json:"conversion_count"`
	LastConversionDuration float64 `json:"last_conversion_duration"`
	LastConversionError    string  `json:"last_conversion_error,omitempty"`
}

// AudioStreamPlan describes how one input audio stream is realized in
// the output: preserved, repaired, or used as the source for a
// synthesized track.
type AudioStreamPlan struct {
	SourceIndex    int
	SourceChannels int
	// SourceLayout is the raw layout, or "unknown" per ProbeSummary
	// semantics.
	SourceLayout string

	EmitSurround51   bool
	EmitStereo       bool
	ChannelmapRepair bool
	// StreamCopy marks a stream whose channel_layout is the literal
	// "unknown": ffmpeg's aac encoder rejects unknown layouts, so this
	// stream must be stream-copied rather than re-encoded.
	StreamCopy bool
	// NeedsProcessing is false for a track that is already fully
	// compliant and is being carried through untouched (stream copy,
	// no filter, no metadata change). It exists so the Decision
	// Engine can still describe every output track's plan (the
	// Builder needs to know the complete track set to map) while the
	// skip/Action derivation only looks at tracks that actually
	// require ffmpeg work.
	NeedsProcessing bool
	LanguageTagFix  string // "" means no fix needed
	CodecOut        string // "aac" or "copy"
}

// SubtitleExtractPlan describes one PGS stream to pull to a sidecar.
type SubtitleExtractPlan struct {
	StreamIndex int
	Language    string
	Forced      bool
	OutPath     string
}

// TransformPlan is the Decision Engine's output: everything the
// Filter-Graph Builder needs to assemble one ffmpeg invocation.
type TransformPlan struct {
	DowngradeResolution bool
	ToneMapHDR          bool
	ReEncodeVideo       bool
	CopyVideo           bool

	TargetWidth  int
	TargetHeight int

	AudioStreamsIn  []AudioStreamPlan
	SubtitleExtract []SubtitleExtractPlan

	ContainerTarget string // "mp4"

	// DominantAction summarizes the plan for cache tagging.
	DominantAction Action
}

// IsEmpty reports whether the plan requires no ffmpeg invocation at
// all — the Decision Engine's Action=skip case.
func (p *TransformPlan) IsEmpty() bool {
	if p == nil {
		return true
	}
	if p.ReEncodeVideo || p.ToneMapHDR || p.DowngradeResolution {
		return false
	}
	for _, a := range p.AudioStreamsIn {
		if a.NeedsProcessing {
			return false
		}
	}
	if len(p.SubtitleExtract) > 0 {
		return false
	}
	return true
}
