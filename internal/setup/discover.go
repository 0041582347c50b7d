package setup

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/njoerd114/raindroprelay/internal/bookmarks"
)

// DiscoverBookmarksFiles scans the well-known browser profile locations for
// Chrome-format Bookmarks files and returns the paths that exist on this
// machine. The order follows browser popularity so the first hit is usually
// the right one.
func DiscoverBookmarksFiles() []string {
	var found []string
	for _, path := range bookmarks.DefaultCandidatePaths() {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			found = append(found, path)
		}
	}
	return found
}

// PingRaindrop verifies that a token can authenticate against the Raindrop.io
// API by requesting the current user. It is used during the wizard before any
// state is persisted, so it deliberately bypasses the full API client.
func PingRaindrop(ctx context.Context, baseURL, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/user", nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	hc := &http.Client{Timeout: 15 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("reaching Raindrop.io at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("Raindrop.io rejected the token (HTTP 401); check that the test token is current")
	default:
		return fmt.Errorf("unexpected response from Raindrop.io: HTTP %d", resp.StatusCode)
	}
}
