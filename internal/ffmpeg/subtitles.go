package ffmpeg

import (
	"strings"

	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// textSubtitleCodecs are subtitle codecs MP4/mov_text can carry
// in-container. Everything else that isn't PGS is dropped by an
// external cleanup pass, per spec.
var textSubtitleCodecs = map[string]bool{
	"subrip": true,
	"srt":    true,
	"ass":    true,
	"ssa":    true,
	"text":   true,
	"mov_text": true,
}

const pgsCodec = "hdmv_pgs_subtitle"

// IsPGS reports whether codecName is the Blu-ray presentation-graphic
// subtitle codec, which MP4 cannot carry in-container.
func IsPGS(codecName string) bool {
	return strings.ToLower(strings.TrimSpace(codecName)) == pgsCodec
}

// IsTextSubtitle reports whether codecName can be carried as mov_text
// inside an MP4 container.
func IsTextSubtitle(codecName string) bool {
	return textSubtitleCodecs[strings.ToLower(strings.TrimSpace(codecName))]
}

// PartitionSubtitles splits a file's subtitle streams into the ones
// that must be extracted to a PGS sidecar and the ones that stay
// in-container (re-muxed as mov_text). Only English or forced PGS
// streams are extracted — foreign-language PGS is left for an
// external cleanup script, same as foreign-language text subtitles.
// Streams that are neither PGS nor a known text codec are dropped
// silently.
func PartitionSubtitles(streams []mediatypes.SubtitleStream) (extract, keep []mediatypes.SubtitleStream) {
	for _, s := range streams {
		switch {
		case IsPGS(s.Codec) && (strings.EqualFold(s.Language, "eng") || s.Forced):
			extract = append(extract, s)
		case IsTextSubtitle(s.Codec):
			keep = append(keep, s)
		}
	}
	return extract, keep
}

// SidecarPath builds the PGS sidecar path for a subtitle stream:
// <basename>[.<lang>][.forced].sup next to the output media.
func SidecarPath(destBase string, s mediatypes.SubtitleStream) string {
	name := destBase
	if s.Language != "" && s.Language != "und" {
		name += "." + s.Language
	}
	if s.Forced {
		name += ".forced"
	}
	return name + ".sup"
}
