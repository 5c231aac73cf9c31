package ffmpeg

import (
	"testing"

	"github.com/wildardoc/mediabox/internal/mediatypes"
)

func TestPartitionSubtitlesExtractsPGS(t *testing.T) {
	streams := []mediatypes.SubtitleStream{
		{Index: 3, Codec: "hdmv_pgs_subtitle", Language: "eng"},
		{Index: 4, Codec: "subrip", Language: "eng"},
		{Index: 5, Codec: "dvd_subtitle", Language: "fre"},
	}

	extract, keep := PartitionSubtitles(streams)
	if len(extract) != 1 || extract[0].Index != 3 {
		t.Fatalf("extract = %+v, want just stream 3", extract)
	}
	if len(keep) != 1 || keep[0].Index != 4 {
		t.Fatalf("keep = %+v, want just stream 4", keep)
	}
}

func TestPartitionSubtitlesDropsForeignPGS(t *testing.T) {
	streams := []mediatypes.SubtitleStream{
		{Index: 3, Codec: "hdmv_pgs_subtitle", Language: "fre"},
		{Index: 4, Codec: "hdmv_pgs_subtitle", Language: "fre", Forced: true},
	}

	extract, keep := PartitionSubtitles(streams)
	if len(extract) != 1 || extract[0].Index != 4 {
		t.Fatalf("extract = %+v, want just the forced stream 4", extract)
	}
	if len(keep) != 0 {
		t.Fatalf("keep = %+v, want none", keep)
	}
}

func TestSidecarPathNaming(t *testing.T) {
	cases := []struct {
		name string
		s    mediatypes.SubtitleStream
		want string
	}{
		{"language only", mediatypes.SubtitleStream{Language: "eng"}, "movie.eng.sup"},
		{"forced", mediatypes.SubtitleStream{Language: "eng", Forced: true}, "movie.eng.forced.sup"},
		{"no language", mediatypes.SubtitleStream{}, "movie.sup"},
		{"und language treated as none", mediatypes.SubtitleStream{Language: "und"}, "movie.sup"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SidecarPath("movie", c.s)
			if got != c.want {
				t.Errorf("SidecarPath = %q, want %q", got, c.want)
			}
		})
	}
}

func TestIsPGSCaseInsensitive(t *testing.T) {
	if !IsPGS("HDMV_PGS_SUBTITLE") {
		t.Error("expected case-insensitive match")
	}
	if IsPGS("subrip") {
		t.Error("subrip should not be PGS")
	}
}
