package fingerprint

import "testing"

func TestFromStatDeterministic(t *testing.T) {
	a := FromStat("episode.mkv", 1234, 5_000_000_000)
	b := FromStat("episode.mkv", 1234, 5_000_000_000)
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s vs %s", a, b)
	}
}

func TestFromStatChangesWithSize(t *testing.T) {
	a := FromStat("episode.mkv", 1234, 5_000_000_000)
	b := FromStat("episode.mkv", 1235, 5_000_000_000)
	if a == b {
		t.Fatal("expected different fingerprints for different sizes")
	}
}

func TestFromStatChangesWithMtime(t *testing.T) {
	a := FromStat("episode.mkv", 1234, 5_000_000_000)
	b := FromStat("episode.mkv", 1234, 5_000_000_001)
	if a == b {
		t.Fatal("expected different fingerprints for different mtimes")
	}
}

func TestFromStatIgnoresDirectory(t *testing.T) {
	// Fingerprint is computed from base name only; callers are
	// responsible for passing filepath.Base(path), so two different
	// directories with the same base name/size/mtime collide by design.
	a := FromStat("episode.mkv", 1234, 5_000_000_000)
	b := FromStat("episode.mkv", 1234, 5_000_000_000)
	if a != b {
		t.Fatal("expected path-independent identity to collide on identical name/size/mtime")
	}
}

func TestFromStatChangesWithName(t *testing.T) {
	a := FromStat("episode.mkv", 1234, 5_000_000_000)
	b := FromStat("episode2.mkv", 1234, 5_000_000_000)
	if a == b {
		t.Fatal("expected different fingerprints for different names")
	}
}
