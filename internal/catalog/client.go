package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSearchURL is the NASA CMR search endpoint.
const DefaultSearchURL = "https://cmr.earthdata.nasa.gov/search"

// tempFormat is the whole-day granularity used in temporal range queries.
const tempFormat = "2006-01-02"

// Client is a CMR granule-search client.
type Client struct {
	logger   *slog.Logger
	httpCli  *http.Client
	baseURL  string
	pageSize int
}

// NewClient creates a new CMR client for the given search endpoint.
func NewClient(logger *slog.Logger, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: bad search URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("catalog: search URL %q has no scheme", baseURL)
	}
	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// One day of CLIMCAPS data is 240 granules, so a single page
		// always covers a day window plus boundary overflow.
		pageSize: 2000,
	}, nil
}

// Search queries the catalog for granules of the named product whose
// coverage overlaps the [start, stop) window. The window is applied at
// whole-day granularity and results are ordered by start date.
func (c *Client) Search(ctx context.Context, shortName string, start, stop time.Time, cloudHosted bool) ([]Granule, error) {
	u, err := url.Parse(c.baseURL + "/granules.json")
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	q := u.Query()
	q.Set("short_name", shortName)
	q.Set("temporal", start.Format(tempFormat)+","+stop.Format(tempFormat))
	if cloudHosted {
		q.Set("cloud_hosted", "true")
	}
	q.Set("page_size", strconv.Itoa(c.pageSize))
	q.Set("sort_key", "start_date")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying %s: %w", shortName, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: querying %s: unexpected status %d", shortName, res.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("catalog: decoding search response: %w", err)
	}

	granules := make([]Granule, 0, len(sr.Feed.Entry))
	for _, e := range sr.Feed.Entry {
		g := Granule{ID: e.Title}
		for _, l := range e.Links {
			if l.Inherited || !strings.HasSuffix(l.Rel, "/data#") {
				continue
			}
			g.DataLinks = append(g.DataLinks, l.Href)
		}
		granules = append(granules, g)
	}
	c.logger.Info("catalog search", "shortName", shortName,
		"temporal", q.Get("temporal"), "granules", len(granules))
	return granules, nil
}

type searchResponse struct {
	Feed struct {
		Entry []searchEntry `json:"entry"`
	} `json:"feed"`
}

type searchEntry struct {
	Title string       `json:"title"`
	Links []searchLink `json:"links"`
}

type searchLink struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	Inherited bool   `json:"inherited"`
}
