package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscalatingStaysStaticWhenNotPromoted(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("forum.php listing")}}
	headless := &fakeFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("rendered")}}
	e := NewEscalating(static, headless, promote(false), nil)

	resp, err := e.Fetch(context.Background(), Request{URL: "http://bbs.example/forum.php"})
	require.NoError(t, err)
	require.Equal(t, "forum.php listing", string(resp.Body))
	require.False(t, resp.UsedHeadless)
	require.Zero(t, headless.calls)
}

func TestEscalatingPromotes(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("<script>challenge</script>")}}
	headless := &fakeFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("rendered listing")}}
	e := NewEscalating(static, headless, promote(true), nil)

	resp, err := e.Fetch(context.Background(), Request{URL: "http://bbs.example/forum.php"})
	require.NoError(t, err)
	require.Equal(t, "rendered listing", string(resp.Body))
	require.True(t, resp.UsedHeadless)
	require.Equal(t, 1, static.calls)
	require.Equal(t, 1, headless.calls)
}

func TestEscalatingFallsBackOnHeadlessFailure(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("partial body")}}
	headless := &fakeFetcher{err: errors.New("chrome unavailable")}
	e := NewEscalating(static, headless, promote(true), nil)

	resp, err := e.Fetch(context.Background(), Request{URL: "http://bbs.example/forum.php"})
	require.NoError(t, err)
	require.Equal(t, "partial body", string(resp.Body))
	require.False(t, resp.UsedHeadless)
}

func TestEscalatingSurfacesStaticError(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{err: errors.New("connect refused")}
	e := NewEscalating(static, nil, nil, nil)

	_, err := e.Fetch(context.Background(), Request{URL: "http://bbs.example/forum.php"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect refused")
}

type fakeFetcher struct {
	resp  Response
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, Request) (Response, error) {
	f.calls++
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}

type promote bool

func (p promote) ShouldPromote(Response) bool { return bool(p) }
