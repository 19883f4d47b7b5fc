// Package service ties the availability pipeline together: it validates a
// request, applies the rate limit, serves events from the feed cache
// (fetching and parsing on a miss) and shapes the response by view.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"availcal/internal/availability"
	"availcal/internal/cache"
	"availcal/internal/config"
	"availcal/internal/ics"
	appLog "availcal/internal/log"
	"availcal/internal/metrics"
	"availcal/internal/model"
	"availcal/internal/ratelimit"
	"availcal/internal/store"
)

const (
	msgInvalidStart  = "Invalid start date. Expected YYYY-MM-DD."
	msgInvalidEnd    = "Invalid end date. Expected YYYY-MM-DD."
	msgEndBefore     = "End date must not be before start date."
	msgRateLimited   = "Too many requests. Please try again later."
	msgNotConfigured = "Calendar not configured. Please contact the administrator."
	msgFetchFailed   = "Failed to fetch calendar data. Please try again later."
)

var errFeedNotConfigured = errors.New("ical_url is empty")

// FeedClient retrieves the raw ICS feed.
type FeedClient interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store is the shared TTL storage behind the cache and the rate limiter.
type Store interface {
	store.KV
	store.Counter
}

// Request is one availability query.
type Request struct {
	Start string // YYYY-MM-DD
	End   string // YYYY-MM-DD
	View  string // MonthView for day availability, anything else for busy blocks
	// Caller identifies the client for rate limiting, e.g. its IP.
	Caller string
}

// Service answers availability requests. It is safe for concurrent use.
type Service struct {
	feedURL      string
	maxRange     int
	fetchTimeout time.Duration

	loc     *time.Location
	client  FeedClient
	parser  *ics.Parser
	engine  *availability.Engine
	cache   *cache.FeedCache
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

// New builds a Service from cfg. cfg is read once; a changed configuration
// needs a new Service.
func New(cfg *config.Config, st Store, client FeedClient, m *metrics.Metrics) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service: config is nil")
	}
	if st == nil || client == nil {
		return nil, errors.New("service: store and feed client are required")
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	openStart, openEnd, err := cfg.OpeningHours()
	if err != nil {
		return nil, err
	}

	return &Service{
		feedURL:      cfg.ICalURL,
		maxRange:     cfg.MaxRangeDays,
		fetchTimeout: cfg.FetchTimeout(),
		loc:          loc,
		client:       client,
		parser:       ics.NewParser(loc),
		engine: availability.New(availability.Options{
			Location:     loc,
			OpeningStart: openStart,
			OpeningEnd:   openEnd,
			MinFreeGap:   cfg.MinFreeGap(),
		}),
		cache:   cache.New(st, cfg.CacheTTL(), m),
		limiter: ratelimit.New(st, cfg.RateLimitPerMinute, m),
		metrics: m,
	}, nil
}

// Availability runs the full pipeline for req. Failures are always *Error.
func (s *Service) Availability(ctx context.Context, req Request) (Result, error) {
	md := modeFor(req.View)

	res, err := s.availability(ctx, req, md)

	outcome := "ok"
	var se *Error
	if errors.As(err, &se) {
		outcome = string(se.Kind)
	}
	s.metrics.ObserveRequest(md.String(), outcome)

	return res, err
}

func (s *Service) availability(ctx context.Context, req Request, md mode) (Result, error) {
	w, from, to, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	caller := req.Caller
	if caller == "" {
		caller = "unknown"
	}
	if !s.limiter.Admit(caller) {
		return nil, &Error{Kind: KindRateLimited, Message: msgRateLimited}
	}

	if s.feedURL == "" {
		appLog.Error("feed URL not configured; set ical_url or "+config.EnvICalURL, errFeedNotConfigured)
		return nil, &Error{Kind: KindConfiguration, Message: msgNotConfigured, Err: errFeedNotConfigured}
	}

	appLog.Info("availability request", "start", req.Start, "end", req.End, "view", req.View, "mode", md.String())

	events, err := s.cache.GetOrFetch(ctx, w, s.fetchWindow(from, to))
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Message: msgFetchFailed, Err: err}
	}

	switch md {
	case modeMonth:
		return DayAvailability(s.engine.Days(events, from, to)), nil
	default:
		return BusyBlocks(availability.BusyBlocks(events)), nil
	}
}

// validate checks the request dates and returns the window plus its first
// and last day as local midnights.
func (s *Service) validate(req Request) (model.Window, time.Time, time.Time, error) {
	from, ok := parseDate(req.Start, s.loc)
	if !ok {
		return model.Window{}, time.Time{}, time.Time{}, validationError(msgInvalidStart)
	}
	to, ok := parseDate(req.End, s.loc)
	if !ok {
		return model.Window{}, time.Time{}, time.Time{}, validationError(msgInvalidEnd)
	}

	days := daysBetween(from, to)
	if days < 0 {
		return model.Window{}, time.Time{}, time.Time{}, validationError(msgEndBefore)
	}
	if days > s.maxRange {
		return model.Window{}, time.Time{}, time.Time{},
			validationError(fmt.Sprintf("Date range too large. Maximum %d days allowed.", s.maxRange))
	}

	return model.Window{Start: req.Start, End: req.End}, from, to, nil
}

// fetchWindow returns the cache-miss path: fetch, parse, and keep the events
// overlapping [from 00:00:00, to 23:59:59].
func (s *Service) fetchWindow(from, to time.Time) cache.FetchFunc {
	lo := from
	hi := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, s.loc)

	return func(ctx context.Context) ([]model.CalendarEvent, error) {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		began := time.Now()
		body, err := s.client.Fetch(ctx, s.feedURL)
		s.metrics.ObserveFetch(err, time.Since(began))
		if err != nil {
			appLog.Error("feed fetch failed", err, "url", ics.RedactURL(s.feedURL))
			return nil, err
		}

		events := ics.FilterWindow(s.parser.Parse(string(body)), lo, hi)
		appLog.Info("feed fetched", "url", ics.RedactURL(s.feedURL), "bytes", len(body), "event_count", len(events))
		return events, nil
	}
}

// ClearCache drops all cached feed windows.
func (s *Service) ClearCache() int {
	return s.cache.Clear()
}

// parseDate parses a YYYY-MM-DD string and requires it to format back to
// exactly the same string.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation(model.DateLayout, s, loc)
	if err != nil || t.Format(model.DateLayout) != s {
		return time.Time{}, false
	}
	return t, true
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
