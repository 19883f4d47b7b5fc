package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appLog "availcal/internal/log"
)

const (
	// DefaultFetchTimeout bounds one upstream request, body included.
	DefaultFetchTimeout = 15 * time.Second

	// maxBodyBytes caps the feed size we are willing to read.
	maxBodyBytes = 10 << 20

	userAgent = "availcal/1.0 (+ics availability)"
)

var (
	// ErrEmptyBody is returned when the feed answers 200 with no content.
	ErrEmptyBody = errors.New("ics: empty feed body")
	// ErrBodyTooLarge is returned when the feed exceeds maxBodyBytes. Feeds
	// are never truncated.
	ErrBodyTooLarge = errors.New("ics: feed body too large")
)

// StatusError is returned for any non-200 upstream response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "ics: unexpected feed status " + e.Status
}

// Fetcher downloads ICS feeds over HTTP(S). It does not retry: one failed
// request is one error for the caller.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose requests are bounded by timeout
// (DefaultFetchTimeout if zero). Certificate verification stays on.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch GETs feedURL and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	if feedURL == "" {
		return nil, errors.New("ics: feed URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ics: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	appLog.Debug("ics fetch start", "url", RedactURL(feedURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch %s: %w", RedactURL(feedURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ics: read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBodyBytes)
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	appLog.Debug("ics fetch success", "url", RedactURL(feedURL), "bytes", len(body))
	return body, nil
}

// RedactURL hides the secret part of a feed URL for logging purposes.
//
//	https://calendar.google.com/calendar/ical/abc/private-xyz/basic.ics
//	-> https://calendar.google.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
