package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"
)

const (
	versionURL          = "https://raw.githubusercontent.com/cwsl/ubereeg/refs/heads/main/version.go"
	versionCheckTimeout = 10 * time.Second
)

var (
	latestVersion   string
	latestVersionMu sync.RWMutex
	versionRegex    = regexp.MustCompile(`const\s+Version\s*=\s*"([^"]+)"`)
)

// GetLatestVersion returns the latest published version, or empty when no
// check has completed yet.
func GetLatestVersion() string {
	latestVersionMu.RLock()
	defer latestVersionMu.RUnlock()
	return latestVersion
}

func setLatestVersion(v string) {
	latestVersionMu.Lock()
	latestVersion = v
	latestVersionMu.Unlock()
}

// IsUpdateAvailable reports whether the published version is semantically
// newer than the running one.
func IsUpdateAvailable() bool {
	latest := GetLatestVersion()
	if latest == "" {
		return false
	}
	current, err := goversion.NewVersion(Version)
	if err != nil {
		return false
	}
	published, err := goversion.NewVersion(latest)
	if err != nil {
		return false
	}
	return published.GreaterThan(current)
}

// fetchPublishedVersion fetches version.go from the main branch and
// extracts the version constant.
func fetchPublishedVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("ubereeg/%s", Version))

	client := &http.Client{Timeout: versionCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if matches := versionRegex.FindStringSubmatch(scanner.Text()); len(matches) == 2 {
			return matches[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	return "", fmt.Errorf("version constant not found")
}

// StartVersionChecker runs the periodic update check until ctx is done.
func StartVersionChecker(ctx context.Context, cfg VersionCheckConfig) {
	if !cfg.Enabled {
		return
	}

	interval := time.Duration(cfg.Interval) * time.Minute
	log.Printf("Version: checking for updates every %v", interval)

	go func() {
		check := func() {
			v, err := fetchPublishedVersion()
			if err != nil {
				log.Printf("Version: check failed: %v", err)
				return
			}
			setLatestVersion(v)
			if IsUpdateAvailable() {
				log.Printf("Version: update available: %s (running %s)", v, Version)
			}
		}

		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}
