package pagination

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MinWorkers and MaxWorkers bound the worker pool size.
	MinWorkers = 1
	MaxWorkers = 7
	// DefaultWorkers is used when no worker count is configured.
	DefaultWorkers = 4
)

var (
	// ErrInvalidWorkers is returned for worker counts outside [MinWorkers, MaxWorkers].
	ErrInvalidWorkers = errors.New("thread count must be between 1 and 7")
	// ErrLinkCycle is returned when a next-link chain revisits a page.
	ErrLinkCycle = errors.New("pagination link cycle detected")
	// ErrChainTooLong is returned when a next-link chain exceeds the page cap.
	ErrChainTooLong = errors.New("pagination chain exceeds page cap")
	// ErrShortPage is returned when an offset page holds fewer records than
	// requested while the server total says more exist.
	ErrShortPage = errors.New("page returned fewer records than requested")
)

// Record is one raw API record, decoded with json.Number for numbers.
type Record = map[string]any

// Link is a follow-up page announced by the API together with the date
// of the records it holds.
type Link struct {
	URL  string
	Date string
}

// Page is one decoded API response.
type Page struct {
	Items []Record
	// Next is the link to the following page. Empty on the terminal page.
	Next string
	// Links are follow-up pages announced up front by the seed response.
	Links []Link
	// Total is the server-reported record count, valid when HasTotal is set.
	Total    int
	HasTotal bool
}

// Fetcher retrieves a single page.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
	// Curl renders a replayable command for a request to url.
	Curl(url string) string
}

// Request describes one collection to fetch.
type Request struct {
	// Source names the collection in logs and errors.
	Source string
	// URL is the seed request.
	URL string
	// Offset is the offset of the seed page.
	Offset int
	// Limit caps the number of collected items. Zero or negative means no cap.
	Limit int
	// PageSize is the item count requested per offset page.
	PageSize int
	// OffsetURL builds the URL of the page starting at offset. Nil disables
	// offset-addressed fetching.
	OffsetURL func(offset, limit int) string
	// KeepLink filters announced links. Nil keeps every link.
	KeepLink func(Link) bool
}

// Collection is the ordered union of all items of one collection.
type Collection struct {
	Items []Record
	Pages int
	// Replay holds one replayable command per page, in page order.
	Replay []string
}

// FetchError reports the page that failed a collection fetch.
type FetchError struct {
	Source string
	Index  int
	URL    string
	// Offset is the page offset, or -1 for link-addressed pages.
	Offset int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("fetching %s page %d (offset %d) failed: %v", e.Source, e.Index, e.Offset, e.Err)
	}
	return fmt.Sprintf("fetching %s page %d (%s) failed: %v", e.Source, e.Index, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ProgressCallback is called after each page completes.
type ProgressCallback func(current, total int, message string)

// ValidateWorkers checks a worker count against the pool bounds.
func ValidateWorkers(n int) error {
	if n < MinWorkers || n > MaxWorkers {
		return fmt.Errorf("%w, got %d", ErrInvalidWorkers, n)
	}
	return nil
}
