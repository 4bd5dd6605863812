// Package fetch defines the page fetch seam shared by the crawl pipeline.
// Implementations live in the colly and headless subpackages; the detector
// subpackage decides when a static fetch needs a headless re-fetch.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Request captures everything needed to fetch one page.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the outcome of one page fetch.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Detector decides whether a static response warrants a headless re-fetch.
type Detector interface {
	ShouldPromote(probe Response) bool
}
