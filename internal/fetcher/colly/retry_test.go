package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	r := s.results[s.calls]
	s.calls++
	return r.resp, r.err
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}
}

func TestRetryTransportRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{err: errors.New("tls: handshake timeout")},
		{resp: okResponse()},
	}}
	transport := &retryTransport{base: base, backoff: []time.Duration{0, 0, 0}}

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://www.olx.co.id/", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 3, base.calls)
}

func TestRetryTransportGivesUp(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	transport := &retryTransport{base: base, backoff: []time.Duration{0}}

	_, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://www.olx.co.id/", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, base.calls)
}

func TestRetryTransportSkipsPermanentErrorsAndPosts(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("no such host")}}}
	transport := &retryTransport{base: base, backoff: []time.Duration{0, 0}}
	_, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://x/", nil))
	require.Error(t, err)
	require.Equal(t, 1, base.calls)

	post := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport = &retryTransport{base: post, backoff: []time.Duration{0, 0}}
	_, err = transport.RoundTrip(httptest.NewRequest(http.MethodPost, "https://x/", nil))
	require.Error(t, err)
	require.Equal(t, 1, post.calls)
}
