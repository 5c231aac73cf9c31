// Package notifier implements the Rescan Notifier (C8): a best-effort,
// never-blocking post-transcode hint to the configured library server
// to rescan the section containing the changed file.
//
// The teacher has no library-server integration to ground this on
// directly; it is built fresh in the teacher's "fire and forget, log
// on failure" posture (mirrored from how runner.Run treats cache
// writes as best-effort), generalized to add a bounded retry budget
// paced with golang.org/x/time/rate so a flaky library server cannot
// turn into an unbounded retry storm.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wildardoc/mediabox/internal/config"
	"github.com/wildardoc/mediabox/internal/logger"
)

// maxAttempts bounds the retry budget for one notification; the
// pipeline must never be blocked waiting on a library server.
const maxAttempts = 3

// Notifier sends best-effort rescan hints after a successful
// transcode.
type Notifier struct {
	cfg     config.PlexIntegration
	dirs    config.LibraryDirs
	client  *http.Client
	limiter *rate.Limiter
}

// New constructs a Notifier from the loaded config. A nil/empty URL is
// valid — Notify becomes a no-op, matching "rescan is optional" rather
// than requiring callers to branch on whether it's configured.
func New(cfg *config.Config) *Notifier {
	return &Notifier{
		cfg:  cfg.PlexIntegration,
		dirs: cfg.LibraryDirs,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		// One notification per second sustained, bursting to 3 — a
		// rescan storm from a bulk-convert run should trickle, not
		// hammer the library server.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// Notify maps path to a library section (via LibraryDirs path-prefix
// matching, with Plex's own PathMappings applied first) and pings the
// server's section-update endpoint. Errors are logged, never returned
// to the caller: a failed rescan hint must not fail the transcode.
func (n *Notifier) Notify(ctx context.Context, path string) {
	if n == nil || n.cfg.URL == "" {
		return
	}

	section := n.sectionFor(path)
	if section == "" {
		logger.Debug("no library section mapped for path, skipping rescan", "path", path)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			logger.Warn("rescan notify: rate limiter wait aborted", "path", path, "error", err)
			return
		}
		if err := n.send(ctx, section); err != nil {
			lastErr = err
			logger.Warn("rescan notify attempt failed", "path", path, "section", section, "attempt", attempt, "error", err)
			continue
		}
		logger.Info("rescan notify succeeded", "path", path, "section", section)
		return
	}
	logger.Warn("rescan notify exhausted retries, giving up", "path", path, "section", section, "error", lastErr)
}

// sectionFor resolves path to a library section name via
// PlexIntegration.PathMappings first (host-path -> library-path
// remap, for cases where the Engine and the library server see
// different mount points), then LibraryDirs prefix matching.
func (n *Notifier) sectionFor(path string) string {
	mapped := path
	for from, to := range n.cfg.PathMappings {
		if strings.HasPrefix(mapped, from) {
			mapped = to + strings.TrimPrefix(mapped, from)
			break
		}
	}

	type candidate struct {
		prefix, section string
	}
	candidates := []candidate{
		{n.dirs.TV, "tv"},
		{n.dirs.Movies, "movies"},
		{n.dirs.Music, "music"},
		{n.dirs.Misc, "misc"},
	}
	best := ""
	bestLen := -1
	for _, c := range candidates {
		if c.prefix == "" {
			continue
		}
		if strings.HasPrefix(mapped, c.prefix) && len(c.prefix) > bestLen {
			best = c.section
			bestLen = len(c.prefix)
		}
	}
	return best
}

func (n *Notifier) send(ctx context.Context, section string) error {
	endpoint, err := url.Parse(strings.TrimRight(n.cfg.URL, "/") + "/library/sections/" + url.PathEscape(section) + "/refresh")
	if err != nil {
		return fmt.Errorf("build notify url: %w", err)
	}
	if n.cfg.Token != "" {
		q := endpoint.Query()
		q.Set("X-Plex-Token", n.cfg.Token)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify server returned %s", resp.Status)
	}
	return nil
}
