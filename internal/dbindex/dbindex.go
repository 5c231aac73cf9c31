// Package dbindex implements the cross-directory query index backing
// build-media-database and query-media-database: a SQLite database
// rebuilt from the per-directory JSON caches (internal/cache), so
// "what needs conversion" or "what's HDR" queries don't require
// walking every directory's cache file on every invocation.
//
// Grounded on the teacher's internal/store/sqlite.go (modernc.org/sqlite
// pure-Go driver, WAL pragma + busy_timeout, a schema_version table for
// forward migrations), generalized from a job queue's schema to one
// row per CacheEntry, rebuildable at any time from the JSON caches —
// the cache files are the source of truth, this index is a derived,
// disposable accelerator.
package dbindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wildardoc/mediabox/internal/cache"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS media (
	fingerprint TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	codec_video TEXT,
	codec_audio TEXT,
	resolution TEXT,
	width INTEGER,
	height INTEGER,
	duration REAL,
	bitrate INTEGER,
	is_hdr INTEGER NOT NULL DEFAULT 0,
	hdr_type TEXT,
	audio_channels INTEGER,
	audio_layout TEXT,
	has_stereo_track INTEGER NOT NULL DEFAULT 0,
	has_surround_track INTEGER NOT NULL DEFAULT 0,
	action TEXT NOT NULL,
	conversion_count INTEGER NOT NULL DEFAULT 0,
	last_conversion_duration REAL,
	last_conversion_error TEXT,
	last_scanned TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_action ON media(action);
CREATE INDEX IF NOT EXISTS idx_media_is_hdr ON media(is_hdr);
CREATE INDEX IF NOT EXISTS idx_media_resolution ON media(resolution);
CREATE INDEX IF NOT EXISTS idx_media_file_name ON media(file_name);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// Index wraps the SQLite-backed query index.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at dbPath, applying the
// schema if this is a fresh file.
func Open(dbPath string) (*Index, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	row := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")
	if err := row.Scan(&version); err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Rebuild clears the index and repopulates it by scanning every
// .mediabox_cache.json file under dirs (via cache.Query), matching
// build-media-database's --scan behavior.
func (i *Index) Rebuild(dirs []string) (int, error) {
	entries, err := cache.Query(dirs, nil)
	if err != nil {
		return 0, fmt.Errorf("scan caches: %w", err)
	}

	tx, err := i.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM media"); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range entries {
		if err := execUpsert(stmt, e); err != nil {
			return 0, fmt.Errorf("insert %s: %w", e.FileName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

const upsertSQL = `
INSERT INTO media (
	fingerprint, file_name, file_path, file_size, codec_video, codec_audio,
	resolution, width, height, duration, bitrate, is_hdr, hdr_type,
	audio_channels, audio_layout, has_stereo_track, has_surround_track,
	action, conversion_count, last_conversion_duration, last_conversion_error,
	last_scanned
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	file_name=excluded.file_name, file_path=excluded.file_path,
	file_size=excluded.file_size, codec_video=excluded.codec_video,
	codec_audio=excluded.codec_audio, resolution=excluded.resolution,
	width=excluded.width, height=excluded.height, duration=excluded.duration,
	bitrate=excluded.bitrate, is_hdr=excluded.is_hdr, hdr_type=excluded.hdr_type,
	audio_channels=excluded.audio_channels, audio_layout=excluded.audio_layout,
	has_stereo_track=excluded.has_stereo_track,
	has_surround_track=excluded.has_surround_track, action=excluded.action,
	conversion_count=excluded.conversion_count,
	last_conversion_duration=excluded.last_conversion_duration,
	last_conversion_error=excluded.last_conversion_error,
	last_scanned=excluded.last_scanned
`

func execUpsert(stmt *sql.Stmt, e *mediatypes.CacheEntry) error {
	_, err := stmt.Exec(
		e.Fingerprint, e.FileName, e.FilePath, e.FileSize, e.CodecVideo, e.CodecAudio,
		e.Resolution, e.Width, e.Height, e.Duration, e.Bitrate, boolToInt(e.IsHDR), string(e.HDRType),
		e.AudioChannels, e.AudioLayout, boolToInt(e.HasStereoTrack), boolToInt(e.HasSurroundTrack),
		string(e.Action), e.ConversionCount, e.LastConversionDuration, e.LastConversionError,
		e.LastScanned.Format(time.RFC3339),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Row is one query result, denormalized for CLI printing.
type Row struct {
	FileName               string
	FilePath               string
	Resolution             string
	CodecVideo             string
	CodecAudio             string
	IsHDR                  bool
	HDRType                string
	Action                 string
	ConversionCount        int
	LastConversionDuration float64
	LastConversionError    string
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		var lastErr sql.NullString
		if err := rows.Scan(&r.FileName, &r.FilePath, &r.Resolution, &r.CodecVideo, &r.CodecAudio,
			&r.IsHDR, &r.HDRType, &r.Action, &r.ConversionCount, &r.LastConversionDuration, &lastErr); err != nil {
			return nil, err
		}
		r.LastConversionError = lastErr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectColumns = `file_name, file_path, resolution, codec_video, codec_audio,
	is_hdr, hdr_type, action, conversion_count, last_conversion_duration, last_conversion_error`

// HDR returns every row flagged HDR.
func (i *Index) HDR() ([]Row, error) {
	rows, err := i.db.Query("SELECT " + selectColumns + " FROM media WHERE is_hdr = 1 ORDER BY file_path")
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// NeedsConversion returns every row whose action is not "skip" or
// "skip_no_english".
func (i *Index) NeedsConversion() ([]Row, error) {
	rows, err := i.db.Query("SELECT "+selectColumns+
		" FROM media WHERE action NOT IN (?, ?) ORDER BY file_path",
		string(mediatypes.ActionSkip), string(mediatypes.ActionSkipNoEnglish))
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// Search returns rows whose file name or path contains text
// (case-insensitive).
func (i *Index) Search(text string) ([]Row, error) {
	like := "%" + text + "%"
	rows, err := i.db.Query("SELECT "+selectColumns+
		" FROM media WHERE file_name LIKE ? COLLATE NOCASE OR file_path LIKE ? COLLATE NOCASE ORDER BY file_path",
		like, like)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// Resolution returns rows exactly matching a "WxH" resolution string.
func (i *Index) Resolution(res string) ([]Row, error) {
	rows, err := i.db.Query("SELECT "+selectColumns+" FROM media WHERE resolution = ? ORDER BY file_path", res)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// StatsSummary is the aggregate counts for query-media-database --stats.
type StatsSummary struct {
	Total            int
	HDRCount         int
	NeedsConversion  int
	ConversionErrors int
}

// Stats computes the aggregate summary in one pass.
func (i *Index) Stats() (StatsSummary, error) {
	var s StatsSummary
	row := i.db.QueryRow(`
		SELECT
			COUNT(*),
			SUM(is_hdr),
			SUM(CASE WHEN action NOT IN (?, ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN last_conversion_error != '' THEN 1 ELSE 0 END)
		FROM media`,
		string(mediatypes.ActionSkip), string(mediatypes.ActionSkipNoEnglish))

	var hdr, needs, errs sql.NullInt64
	if err := row.Scan(&s.Total, &hdr, &needs, &errs); err != nil {
		return s, err
	}
	s.HDRCount = int(hdr.Int64)
	s.NeedsConversion = int(needs.Int64)
	s.ConversionErrors = int(errs.Int64)
	return s, nil
}
