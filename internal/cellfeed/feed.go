package cellfeed

// feed.go is the boundary to the remote feed: an HTTP GET against the
// public cell-granularity endpoint followed by an Atom XML decode.
//
// The rest of the package only ever sees the Fetcher interface and the
// ParsedFeed it returns, so tests (and alternative transports) substitute
// their own Fetcher without touching the data-shaping code.

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// feedURLTemplate is the public, read-only, cell-granularity feed endpoint.
// The first placeholder is the feed key, the second the 1-based worksheet
// index.
const feedURLTemplate = "https://spreadsheets.google.com/feeds/cells/%s/%d/public/basic"

// DefaultFetchTimeout bounds a feed fetch when no timeout is configured.
const DefaultFetchTimeout = 30 * time.Second

// DefaultMaxFeedBytes caps the response body size. The whole sheet is
// materialized in memory, so an unexpectedly huge payload fails the fetch
// instead of exhausting the process.
const DefaultMaxFeedBytes int64 = 32 << 20 // 32MB

// FeedURL builds the feed URL for one worksheet of one sheet.
func FeedURL(feedKey string, worksheetIndex int) string {
	return fmt.Sprintf(feedURLTemplate, feedKey, worksheetIndex)
}

// Entry is one cell as reported by the feed: a location label and the cell's
// text content.
type Entry struct {
	Label   string
	Content string
}

// ParsedFeed is the decoded feed document.
type ParsedFeed struct {
	Title   string  // worksheet title as reported by the feed
	Updated string  // last-updated stamp as reported by the feed
	Entries []Entry // cells in feed order
}

// Fetcher retrieves and decodes a feed document.
// Implementations return *FetchError for transport failures and *ParseError
// for payloads that cannot be decoded.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*ParsedFeed, error)
}

// atom mirrors the subset of the Atom feed document this adapter consumes.
// Each entry's title element carries the cell's location label and its
// content element the cell text.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Content string `xml:"content"`
}

// HTTPFetcher fetches feeds over HTTP. The zero value is not usable; create
// one with NewHTTPFetcher.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// HTTPFetcherOption customizes an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header sent with feed requests.
func WithUserAgent(ua string) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithMaxFeedBytes overrides the response body size cap.
func WithMaxFeedBytes(n int64) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.maxBytes = n }
}

// NewHTTPFetcher creates a fetcher with the given request timeout.
// A timeout <= 0 falls back to DefaultFetchTimeout.
func NewHTTPFetcher(timeout time.Duration, opts ...HTTPFetcherOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxFeedBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs the GET and decodes the Atom payload.
//
// Cancellation and timeouts surface as *FetchError with status 0, so the
// caller's handling is identical to any other transport failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Carry a snippet of the payload as the diagnostic message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Message: err.Error()}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &FetchError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("feed exceeds %d byte limit", f.maxBytes),
		}
	}

	var doc atomFeed
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Message: err.Error()}
	}

	parsed := &ParsedFeed{
		Title:   strings.TrimSpace(doc.Title),
		Updated: strings.TrimSpace(doc.Updated),
		Entries: make([]Entry, len(doc.Entries)),
	}
	for i, e := range doc.Entries {
		parsed.Entries[i] = Entry{
			Label:   strings.TrimSpace(e.Title),
			Content: e.Content,
		}
	}
	return parsed, nil
}
