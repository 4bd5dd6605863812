// Package faults includes tests for error kind tagging and classification.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"
)

// TestTagRoundTrip checks a tagged kind survives layers of fmt wrapping.
func TestTagRoundTrip(t *testing.T) {
	t.Parallel()

	base := Tag(KindAuth, errors.New("account verification demanded"))
	wrapped := fmt.Errorf("submit chunk 3: %w", base)

	if got := KindOf(wrapped); got != KindAuth {
		t.Fatalf("KindOf() = %v, want %v", got, KindAuth)
	}
	if !IsKind(wrapped, KindAuth) {
		t.Fatal("IsKind(KindAuth) = false, want true")
	}
}

// TestTagNil verifies Tag passes nil through untouched.
func TestTagNil(t *testing.T) {
	t.Parallel()

	if err := Tag(KindTransient, nil); err != nil {
		t.Fatalf("Tag(nil) = %v, want nil", err)
	}
}

// TestKindOfStructural covers the fallback classification of untagged errors.
func TestKindOfStructural(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", &net.DNSError{IsTimeout: true}, KindTimeout},
		{"net other", &net.OpError{Op: "dial", Err: os.ErrClosed}, KindTransient},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// TestRetryable pins down which kinds a retry loop may act on.
func TestRetryable(t *testing.T) {
	t.Parallel()

	retryable := map[Kind]bool{
		KindTimeout:    true,
		KindTransient:  true,
		KindValidation: false,
		KindAuth:       false,
		KindSession:    false,
		KindCapacity:   false,
		KindConfig:     false,
		KindUnknown:    false,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Fatalf("%v.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

// TestErrorMessageIncludesKind keeps log lines self-describing.
func TestErrorMessageIncludesKind(t *testing.T) {
	t.Parallel()

	err := Newf(KindConfig, "bad cron spec %q", "* * *")
	want := `config_invalid: bad cron spec "* * *"`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

// TestTaggedBeatsStructural ensures an explicit tag wins over the shape of the
// underlying error.
func TestTaggedBeatsStructural(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := Tag(KindAuth, ctx.Err())
	if got := KindOf(err); got != KindAuth {
		t.Fatalf("KindOf() = %v, want %v", got, KindAuth)
	}
}
