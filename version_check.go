package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/soundwatch/noisemeter/internal/types"
	"github.com/soundwatch/noisemeter/internal/util"
)

const (
	releaseURL          = "https://api.github.com/repos/soundwatch/noisemeter/releases/latest"
	releaseInterval     = 24 * time.Hour
	releaseStartupDelay = 30 * time.Second // let the meter come up before touching the network
	releaseTimeout      = 15 * time.Second
	releaseAttempts     = 3
)

// VersionChecker polls GitHub for newer releases so the status payload
// can surface update availability. Safe for concurrent use.
type VersionChecker struct {
	mu     sync.RWMutex
	latest string
	etag   string
	stopCh chan struct{}
}

// NewVersionChecker starts the polling goroutine and returns the checker.
func NewVersionChecker() *VersionChecker {
	vc := &VersionChecker{stopCh: make(chan struct{})}
	go vc.run()
	return vc
}

// Stop terminates the polling goroutine.
func (vc *VersionChecker) Stop() {
	close(vc.stopCh)
}

func (vc *VersionChecker) run() {
	if !vc.sleep(releaseStartupDelay) {
		return
	}
	vc.checkCycle()

	ticker := time.NewTicker(releaseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			vc.checkCycle()
		case <-vc.stopCh:
			return
		}
	}
}

// sleep waits for d, returning false if the checker was stopped.
func (vc *VersionChecker) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-vc.stopCh:
		return false
	}
}

// checkCycle fetches the latest release, retrying transient failures
// with growing delays before giving up until the next daily cycle.
func (vc *VersionChecker) checkCycle() {
	backoff := util.NewBackoff(time.Minute, 5*time.Minute)
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		if vc.fetchLatest() {
			return
		}
		if attempt < releaseAttempts-1 && !vc.sleep(backoff.Next()) {
			return
		}
	}
	slog.Debug("release check failed, retrying next cycle")
}

// releaseInfo is the slice of the GitHub release document we read.
type releaseInfo struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// fetchLatest queries the release endpoint once, using a conditional
// request when an ETag is cached. It returns false only for failures
// worth retrying: network errors, rate limits and server errors.
func (vc *VersionChecker) fetchLatest() bool {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL, http.NoBody)
	if err != nil {
		return true
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "noisemeter/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer util.SafeClose(resp.Body, "release response body")

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return true // unchanged since last check
	case resp.StatusCode == http.StatusNotFound:
		return true // no releases published yet
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return false // rate limited
	case resp.StatusCode >= 500:
		return false
	case resp.StatusCode != http.StatusOK:
		return true // other client errors will not improve on retry
	}

	var release releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false
	}
	if release.Draft || release.Prerelease || release.TagName == "" {
		return true
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if tag := resp.Header.Get("ETag"); tag != "" {
		vc.etag = tag
	}
	vc.mu.Unlock()
	return true
}

// Info returns the version info served in the status payload.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	// Development builds never claim an available update.
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

// normalizeVersion strips the leading v for display.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion restores the leading v that semver.Compare expects.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
