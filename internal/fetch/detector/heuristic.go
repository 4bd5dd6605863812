// Package detector decides when to promote fetches to the headless renderer.
package detector

import (
	"bytes"
	"net/http"

	"magharvest/internal/fetch"
)

// Heuristic flags responses that look like a JavaScript challenge or an
// entry-gate page instead of forum markup.
type Heuristic struct {
	MinBodyBytes int
}

// NewHeuristic creates a new detector. threshold 0 uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{MinBodyBytes: threshold}
}

// gateMarkers identify the age-confirmation interstitial. It can embed real
// forum links, so the check runs before the forum markers below.
var gateMarkers = [][]byte{
	[]byte("enter-btn"),
	[]byte("满18岁"),
}

// forumMarkers are strings a real Discuz page always carries. Their presence
// means the static fetch got through and no re-fetch is needed.
var forumMarkers = [][]byte{
	[]byte("forum.php"),
	[]byte("discuz"),
}

// challengeMarkers indicate a script-driven interstitial.
var challengeMarkers = [][]byte{
	[]byte("document.cookie"),
	[]byte("location.reload"),
	[]byte("window.location.href"),
	[]byte("please enable javascript"),
}

// ShouldPromote decides whether a headless re-fetch is required.
func (h *Heuristic) ShouldPromote(resp fetch.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	for _, marker := range gateMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	for _, marker := range forumMarkers {
		if bytes.Contains(lower, marker) {
			return false
		}
	}
	if len(lower) < h.MinBodyBytes {
		return true
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
