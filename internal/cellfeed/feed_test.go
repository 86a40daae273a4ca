package cellfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Sheet1</title>
  <updated>2024-03-01T10:00:00Z</updated>
  <entry>
    <title>A1</title>
    <content type="text">Name</content>
  </entry>
  <entry>
    <title>B1</title>
    <content type="text">Email</content>
  </entry>
  <entry>
    <title>A2</title>
    <content type="text">Ada</content>
  </entry>
</feed>`

// ============================================================================
// HTTPFetcher Tests
// ============================================================================

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(sampleAtom))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5*time.Second, WithUserAgent("sheetfeed-test"))
	feed, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if feed.Title != "Sheet1" {
		t.Errorf("Title = %q, want %q", feed.Title, "Sheet1")
	}
	if feed.Updated != "2024-03-01T10:00:00Z" {
		t.Errorf("Updated = %q", feed.Updated)
	}
	if len(feed.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(feed.Entries))
	}
	if feed.Entries[0].Label != "A1" || feed.Entries[0].Content != "Name" {
		t.Errorf("first entry = %+v", feed.Entries[0])
	}
	if gotUA != "sheetfeed-test" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "sheetfeed-test")
	}
}

func TestHTTPFetcher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "worksheet not found", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	_, err := fetcher.Fetch(context.Background(), server.URL)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", fetchErr.Status, http.StatusNotFound)
	}
	if fetchErr.Message != "worksheet not found" {
		t.Errorf("Message = %q, want payload snippet", fetchErr.Message)
	}
}

func TestHTTPFetcher_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<feed><entry></feed"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	_, err := fetcher.Fetch(context.Background(), server.URL)

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Fetch() error = %v, want *ParseError", err)
	}
}

func TestHTTPFetcher_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	fetcher := NewHTTPFetcher(time.Second)
	_, err := fetcher.Fetch(context.Background(), server.URL)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
	if fetchErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for network failure", fetchErr.Status)
	}
}

func TestHTTPFetcher_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewHTTPFetcher(5 * time.Second)
	_, err := fetcher.Fetch(ctx, server.URL)

	// Cancellation behaves identically to any other transport failure.
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
}

func TestHTTPFetcher_BodySizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5*time.Second, WithMaxFeedBytes(1024))
	_, err := fetcher.Fetch(context.Background(), server.URL)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
}

func TestFeedURL(t *testing.T) {
	got := FeedURL("abc123", 2)
	want := "https://spreadsheets.google.com/feeds/cells/abc123/2/public/basic"
	if got != want {
		t.Errorf("FeedURL = %q, want %q", got, want)
	}
}
