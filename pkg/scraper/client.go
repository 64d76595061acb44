// Package scraper talks to the external job-board scraper service consumed
// during the collection stage of the pipeline, using a plain net/http client
// rather than pulling in an HTTP framework this single-endpoint integration
// does not need.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nthiel/jobwatch/pkg/orcherrors"
)

// Client is an HTTP client for the external scraper's /scrape and /notify
// endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	logger     *slog.Logger
}

// New builds a scraper Client per cfg.
func New(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxRetries: maxRetries,
		logger:     slog.Default(),
	}
}

// DatePosted enumerates the subscription's date_posted filter values, which
// map onto the scraper's hours_old parameter.
const (
	DatePostedToday = "today"
	DatePosted3Days = "3days"
	DatePostedWeek  = "week"
	DatePostedMonth = "month"
	DatePostedAll   = "all"
)

// hoursOld maps date_posted onto the scraper's hours_old parameter; "all"
// omits the field entirely.
func hoursOld(datePosted string) (int, bool) {
	switch datePosted {
	case DatePostedToday:
		return 24, true
	case DatePosted3Days:
		return 72, true
	case DatePostedWeek:
		return 168, true
	case DatePostedMonth:
		return 720, true
	default:
		return 0, false
	}
}

// Request describes one /scrape call's parameters.
type Request struct {
	SearchTerm      string
	Location        string
	Country         string
	SiteNames       []string
	ResultsWanted   int
	IsRemote        *bool
	JobType         string
	DatePosted      string
}

type scrapeBody struct {
	SearchTerm    string   `json:"search_term"`
	Location      string   `json:"location,omitempty"`
	Country       string   `json:"country,omitempty"`
	SiteName      []string `json:"site_name"`
	ResultsWanted int      `json:"results_wanted"`
	IsRemote      *bool    `json:"is_remote,omitempty"`
	JobType       string   `json:"job_type,omitempty"`
	HoursOld      *int     `json:"hours_old,omitempty"`
}

// Posting is one raw job as returned by the scraper, before normalization.
type Posting struct {
	JobURL      string   `json:"job_url"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	IsRemote    bool     `json:"is_remote"`
	SalaryMin   *float64 `json:"salary_min"`
	SalaryMax   *float64 `json:"salary_max"`
	Currency    *string  `json:"salary_currency"`
	Site        string   `json:"site"`
	PostedDate  *string  `json:"posted_date"`
}

type scrapeResponse struct {
	Jobs []Posting `json:"jobs"`
}

// Scrape issues one /scrape call. When both hours_old and (job_type or
// is_remote) are needed, the caller should use ScrapeIntersected instead:
// this method sends hours_old only when req.JobType and req.IsRemote are
// both unset, matching the "two scrapes and intersect" rule.
func (c *Client) Scrape(ctx context.Context, req Request) ([]Posting, error) {
	body := scrapeBody{
		SearchTerm:    req.SearchTerm,
		Location:      req.Location,
		Country:       req.Country,
		SiteName:      req.SiteNames,
		ResultsWanted: req.ResultsWanted,
		IsRemote:      req.IsRemote,
		JobType:       req.JobType,
	}
	if h, ok := hoursOld(req.DatePosted); ok && req.JobType == "" && req.IsRemote == nil {
		body.HoursOld = &h
	}
	return c.doScrape(ctx, body)
}

// ScrapeIntersected implements the dual-scrape-and-intersect rule: if
// both an hours_old mapping and a job_type/is_remote filter apply, issue two
// scrapes (one per constraint) and keep only postings present in both,
// matched by job_url.
func (c *Client) ScrapeIntersected(ctx context.Context, req Request) ([]Posting, error) {
	h, hasHours := hoursOld(req.DatePosted)
	needsTypeOrRemote := req.JobType != "" || req.IsRemote != nil
	if !hasHours || !needsTypeOrRemote {
		return c.Scrape(ctx, req)
	}

	byHours := scrapeBody{
		SearchTerm: req.SearchTerm, Location: req.Location, Country: req.Country,
		SiteName: req.SiteNames, ResultsWanted: req.ResultsWanted, HoursOld: &h,
	}
	byFilter := scrapeBody{
		SearchTerm: req.SearchTerm, Location: req.Location, Country: req.Country,
		SiteName: req.SiteNames, ResultsWanted: req.ResultsWanted,
		IsRemote: req.IsRemote, JobType: req.JobType,
	}

	first, err := c.doScrape(ctx, byHours)
	if err != nil {
		return nil, err
	}
	second, err := c.doScrape(ctx, byFilter)
	if err != nil {
		return nil, err
	}
	return intersectByURL(first, second), nil
}

func intersectByURL(a, b []Posting) []Posting {
	inB := make(map[string]bool, len(b))
	for _, p := range b {
		inB[p.JobURL] = true
	}
	out := make([]Posting, 0, len(a))
	for _, p := range a {
		if inB[p.JobURL] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) doScrape(ctx context.Context, body scrapeBody) ([]Posting, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, orcherrors.New(orcherrors.Fatal, "scraper.scrape", fmt.Errorf("marshal request: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, orcherrors.New(orcherrors.Cancelled, "scraper.scrape", ctx.Err())
			}
		}

		var out scrapeResponse
		err := c.post(ctx, "/scrape", payload, &out)
		if err == nil {
			return out.Jobs, nil
		}
		lastErr = err
		if !orcherrors.Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return orcherrors.New(orcherrors.Fatal, "scraper"+path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orcherrors.New(orcherrors.Transient, "scraper"+path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return orcherrors.New(orcherrors.RateLimited, "scraper"+path, fmt.Errorf("429: %s", respBody))
	case resp.StatusCode >= 500:
		return orcherrors.New(orcherrors.Transient, "scraper"+path, fmt.Errorf("%d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		return orcherrors.New(orcherrors.InvalidInput, "scraper"+path, fmt.Errorf("%d: %s", resp.StatusCode, respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return orcherrors.New(orcherrors.InvalidInput, "scraper"+path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Notify calls the scraper's optional /notify endpoint on run cancellation,
// for cross-process log correlation. Best-effort: failures are logged, not
// returned.
func (c *Client) Notify(ctx context.Context, runID, reason string) {
	payload, err := json.Marshal(map[string]string{"run_id": runID, "reason": reason})
	if err != nil {
		return
	}
	if err := c.post(ctx, "/notify", payload, nil); err != nil {
		c.logger.Warn("scraper: /notify call failed", "run_id", runID, "error", err)
	}
}
