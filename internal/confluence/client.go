// Package confluence adapts a Confluence Cloud wiki as the engine's content
// source: page listing and fetching, native CQL text search, and optional
// attachment text. Markup is normalized to plain text with paragraph
// boundaries preserved for the chunker.
package confluence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/retry"
)

const (
	apiPrefix     = "/wiki/rest/api"
	pageSize      = 100
	maxBodyBytes  = 10 << 20 // cap on any single API response
	searchExpand  = "content.version"
	contentExpand = "body.storage,version,space"
)

// Client talks to the Confluence Cloud REST API with basic auth, a token
// bucket limiting the request rate, and bounded retries on transient
// failures. NotFound is terminal and never retried.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
}

// New creates a Client for the given Confluence site.
func New(baseURL, email, apiToken string, requestsPerSecond float64, retryCfg retry.Config) *Client {
	creds := base64.StdEncoding.EncodeToString([]byte(email + ":" + apiToken))
	if requestsPerSecond <= 0 {
		requestsPerSecond = 8
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		retryCfg:   retryCfg,
	}
}

// get performs a rate-limited, retried GET against an API path and decodes
// the JSON response into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	return retry.Do(ctx, c.retryCfg, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errkind.Wrap(errkind.InvalidArgument, op, err)
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errkind.Wrap(errkind.SourceUnavailable, op, err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(op, resp.StatusCode); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
			return errkind.Wrap(errkind.SourceUnavailable, op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}

// classifyStatus maps an HTTP status to the error taxonomy. 404 is terminal;
// auth, throttling, and server errors are treated as transient source
// unavailability.
func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errkind.Newf(errkind.NotFound, op, "status %d", status)
	default:
		return errkind.Newf(errkind.SourceUnavailable, op, "status %d", status)
	}
}

type spaceResult struct {
	Results []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"results"`
	Size int `json:"size"`
}

// ListSpaces returns all spaces visible to the configured account.
func (c *Client) ListSpaces(ctx context.Context) ([]Space, error) {
	var spaces []Space
	for start := 0; ; start += pageSize {
		q := url.Values{
			"start": {strconv.Itoa(start)},
			"limit": {strconv.Itoa(pageSize)},
		}
		var page spaceResult
		if err := c.get(ctx, "confluence: list spaces", apiPrefix+"/space", q, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Results {
			spaces = append(spaces, Space{Key: s.Key, Name: s.Name, Type: s.Type})
		}
		if len(page.Results) < pageSize {
			return spaces, nil
		}
	}
}

type contentListResult struct {
	Results []contentEntry `json:"results"`
	Size    int            `json:"size"`
}

type contentEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (e contentEntry) header(baseURL string) PageHeader {
	return PageHeader{
		ID:           e.ID,
		Title:        e.Title,
		Version:      e.Version.Number,
		LastModified: parseWhen(e.Version.When),
		URL:          pageURL(baseURL, e.Links.WebUI),
	}
}

// ListPages returns headers (no bodies) for every current page in a space,
// paginating through the full listing.
func (c *Client) ListPages(ctx context.Context, spaceKey string) ([]PageHeader, error) {
	var headers []PageHeader
	for start := 0; ; start += pageSize {
		q := url.Values{
			"spaceKey": {spaceKey},
			"type":     {"page"},
			"status":   {"current"},
			"start":    {strconv.Itoa(start)},
			"limit":    {strconv.Itoa(pageSize)},
			"expand":   {"version"},
		}
		var page contentListResult
		if err := c.get(ctx, "confluence: list pages "+spaceKey, apiPrefix+"/content", q, &page); err != nil {
			return nil, err
		}
		for _, e := range page.Results {
			headers = append(headers, e.header(c.baseURL))
		}
		if len(page.Results) < pageSize {
			return headers, nil
		}
	}
}

// FetchPage returns one page with its storage-format body normalized to
// plain text.
func (c *Client) FetchPage(ctx context.Context, pageID string) (Page, error) {
	q := url.Values{"expand": {contentExpand}}
	var e contentEntry
	if err := c.get(ctx, "confluence: fetch page "+pageID, apiPrefix+"/content/"+pageID, q, &e); err != nil {
		return Page{}, err
	}
	return Page{
		ID:           e.ID,
		SpaceKey:     e.Space.Key,
		Title:        e.Title,
		Body:         Normalize(e.Body.Storage.Value),
		Version:      e.Version.Number,
		LastModified: parseWhen(e.Version.When),
		URL:          pageURL(c.baseURL, e.Links.WebUI),
	}, nil
}

type searchResult struct {
	Results []struct {
		Content struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"content"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
}

// LexicalSearch runs the wiki's native CQL text search scoped to a space.
// The API exposes no relevance score, so hits carry a reciprocal-rank score
// that downstream fusion normalizes anyway.
func (c *Client) LexicalSearch(ctx context.Context, spaceKey, query string, limit int) ([]LexicalHit, error) {
	if limit <= 0 {
		limit = 20
	}
	cql := fmt.Sprintf("text ~ %s", cqlQuote(query))
	if spaceKey != "" {
		cql += fmt.Sprintf(" AND space = %s", cqlQuote(spaceKey))
	}
	cql += " AND type = page ORDER BY lastmodified DESC"

	q := url.Values{
		"cql":   {cql},
		"limit": {strconv.Itoa(limit)},
	}
	var res searchResult
	if err := c.get(ctx, "confluence: lexical search", apiPrefix+"/search", q, &res); err != nil {
		return nil, err
	}

	hits := make([]LexicalHit, 0, len(res.Results))
	for i, r := range res.Results {
		if r.Content.ID == "" {
			continue
		}
		hits = append(hits, LexicalHit{
			PageID:  r.Content.ID,
			Title:   r.Content.Title,
			Snippet: r.Excerpt,
			Score:   1.0 / float64(i+1),
		})
	}
	return hits, nil
}

// RecentlyUpdated returns headers for pages modified since the given time,
// most recent first.
func (c *Client) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]PageHeader, error) {
	if limit <= 0 {
		limit = 20
	}
	cql := fmt.Sprintf("type = page AND lastmodified >= %s ORDER BY lastmodified DESC",
		cqlQuote(since.UTC().Format("2006/01/02 15:04")))

	q := url.Values{
		"cql":    {cql},
		"limit":  {strconv.Itoa(limit)},
		"expand": {searchExpand},
	}
	var res struct {
		Results []struct {
			Content contentEntry `json:"content"`
		} `json:"results"`
	}
	if err := c.get(ctx, "confluence: recent updates", apiPrefix+"/search", q, &res); err != nil {
		return nil, err
	}

	headers := make([]PageHeader, 0, len(res.Results))
	for _, r := range res.Results {
		if r.Content.ID == "" {
			continue
		}
		headers = append(headers, r.Content.header(c.baseURL))
	}
	return headers, nil
}

// cqlQuote wraps s in double quotes, escaping embedded quotes so user input
// cannot break out of the CQL string literal.
func cqlQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func pageURL(baseURL, webui string) string {
	if webui == "" {
		return ""
	}
	return baseURL + "/wiki" + webui
}

func parseWhen(when string) time.Time {
	t, err := time.Parse(time.RFC3339, when)
	if err != nil {
		return time.Time{}
	}
	return t
}
