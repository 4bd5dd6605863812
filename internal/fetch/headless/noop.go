package headless

import (
	"context"
	"errors"

	"magharvest/internal/fetch"
)

// Noop implements fetch.Fetcher but always returns an error to indicate that
// headless rendering is not enabled in the current configuration.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(context.Context, fetch.Request) (fetch.Response, error) {
	return fetch.Response{}, errors.New("headless renderer not configured")
}
