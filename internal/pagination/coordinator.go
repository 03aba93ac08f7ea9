package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultCollectionTimeout bounds the total time spent on one collection.
	DefaultCollectionTimeout = 10 * time.Minute
	// DefaultMaxChainPages caps how many pages a next-link chain may yield.
	DefaultMaxChainPages = 10000
)

// Coordinator fetches every page of a collection with a bounded worker pool.
type Coordinator struct {
	fetcher       Fetcher
	workers       int
	limiter       *rate.Limiter
	timeout       time.Duration
	maxChainPages int
	logger        *slog.Logger

	progressMu       sync.Mutex
	progressCallback ProgressCallback
}

// NewCoordinator creates a coordinator running at most workers concurrent fetches.
func NewCoordinator(fetcher Fetcher, workers int) (*Coordinator, error) {
	if err := ValidateWorkers(workers); err != nil {
		return nil, err
	}
	return &Coordinator{
		fetcher:       fetcher,
		workers:       workers,
		limiter:       rate.NewLimiter(rate.Inf, 0),
		timeout:       DefaultCollectionTimeout,
		maxChainPages: DefaultMaxChainPages,
		logger:        slog.Default(),
	}, nil
}

// SetProgressCallback sets the progress callback function.
func (c *Coordinator) SetProgressCallback(callback ProgressCallback) {
	c.progressCallback = callback
}

// SetRateLimit throttles dispatches to perSecond requests. Zero or negative
// disables throttling.
func (c *Coordinator) SetRateLimit(perSecond float64) {
	if perSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// SetTimeout bounds the total time of one FetchAll. Zero disables the bound.
func (c *Coordinator) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetMaxChainPages caps the length of a next-link chain.
func (c *Coordinator) SetMaxChainPages(n int) {
	if n > 0 {
		c.maxChainPages = n
	}
}

// SetLogger sets the logger used for request and progress logging.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Workers returns the worker pool size.
func (c *Coordinator) Workers() int {
	return c.workers
}

type task struct {
	url    string
	offset int
	limit  int
}

// FetchAll fetches the seed page of req and every page it leads to. Items are
// returned in page sequence order regardless of which worker finished first.
// Any page that fails after its retries fails the whole collection.
func (c *Coordinator) FetchAll(ctx context.Context, req Request) (*Collection, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()

	seed, err := c.fetch(ctx, req, 0, task{url: req.URL, offset: req.Offset})
	if err != nil {
		return nil, err
	}

	col := &Collection{
		Items:  append([]Record(nil), seed.Items...),
		Pages:  1,
		Replay: []string{c.fetcher.Curl(req.URL)},
	}

	want := -1
	switch {
	case len(seed.Links) > 0:
		tasks := linkTasks(seed.Links, req.KeepLink)
		c.logger.Debug("Fetching announced pages",
			slog.String("source", req.Source),
			slog.Int("announced", len(seed.Links)),
			slog.Int("kept", len(tasks)))
		if err := c.fetchConcurrent(ctx, req, tasks, col); err != nil {
			return nil, err
		}
	case seed.HasTotal && req.OffsetURL != nil && req.PageSize > 0:
		want = offsetWant(req, seed.Total)
		size := req.PageSize
		if expected := min(size, want); len(seed.Items) < expected {
			if len(seed.Items) == 0 {
				return nil, &FetchError{Source: req.Source, Index: 0, URL: req.URL, Offset: req.Offset,
					Err: fmt.Errorf("%w: got 0 of %d", ErrShortPage, expected)}
			}
			// The server caps pages below the requested size.
			size = len(seed.Items)
			c.logger.Debug("Server page size below requested, re-planning",
				slog.String("source", req.Source),
				slog.Int("requested", req.PageSize),
				slog.Int("served", size))
		}
		tasks := offsetTasks(req, want, size)
		c.logger.Debug("Fetching offset pages",
			slog.String("source", req.Source),
			slog.Int("total", seed.Total),
			slog.Int("wanted", want),
			slog.Int("pages", len(tasks)+1))
		if err := c.fetchConcurrent(ctx, req, tasks, col); err != nil {
			return nil, err
		}
	case seed.Next != "":
		if err := c.walkChain(ctx, req, seed.Next, col); err != nil {
			return nil, err
		}
	default:
		c.reportProgress(1, 1, fmt.Sprintf("%s: 1 page", req.Source))
	}

	if req.Limit > 0 && (want < 0 || req.Limit < want) {
		want = req.Limit
	}
	if want >= 0 && len(col.Items) > want {
		col.Items = col.Items[:want]
	}

	c.logger.Debug("Collection fetched",
		slog.String("source", req.Source),
		slog.Int("pages", col.Pages),
		slog.Int("items", len(col.Items)),
		slog.Duration("duration", time.Since(start)))
	return col, nil
}

// fetchConcurrent runs tasks on the worker pool. Each worker owns exactly one
// slot, so slots are merged by sequence index after all workers return.
func (c *Coordinator) fetchConcurrent(ctx context.Context, req Request, tasks []task, col *Collection) error {
	total := len(tasks) + 1
	c.reportProgress(1, total, fmt.Sprintf("%s: page 1/%d", req.Source, total))
	if len(tasks) == 0 {
		return nil
	}

	slots := make([][]Record, len(tasks))
	replay := make([]string, len(tasks))

	var (
		doneMu sync.Mutex
		done   = 1
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	var dispatchErr error
	for i, t := range tasks {
		index := i + 1
		if err := c.limiter.Wait(gctx); err != nil {
			dispatchErr = &FetchError{Source: req.Source, Index: index, URL: t.url, Offset: t.offset, Err: err}
			break
		}
		g.Go(func() error {
			page, err := c.fetch(gctx, req, index, t)
			if err != nil {
				return err
			}
			if t.limit > 0 {
				if len(page.Items) < t.limit {
					return &FetchError{Source: req.Source, Index: index, URL: t.url, Offset: t.offset,
						Err: fmt.Errorf("%w: got %d of %d", ErrShortPage, len(page.Items), t.limit)}
				}
				page.Items = page.Items[:t.limit]
			}
			slots[i] = page.Items
			replay[i] = c.fetcher.Curl(t.url)

			doneMu.Lock()
			done++
			current := done
			doneMu.Unlock()
			c.reportProgress(current, total, fmt.Sprintf("%s: page %d/%d", req.Source, current, total))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	for i := range slots {
		col.Items = append(col.Items, slots[i]...)
		col.Replay = append(col.Replay, replay[i])
	}
	col.Pages += len(tasks)
	return nil
}

// walkChain follows next links one page at a time.
func (c *Coordinator) walkChain(ctx context.Context, req Request, next string, col *Collection) error {
	visited := map[string]bool{req.URL: true}
	index := 1
	for next != "" {
		if visited[next] {
			return &FetchError{Source: req.Source, Index: index, URL: next, Offset: -1, Err: ErrLinkCycle}
		}
		if col.Pages >= c.maxChainPages {
			return &FetchError{Source: req.Source, Index: index, URL: next, Offset: -1, Err: ErrChainTooLong}
		}
		if req.Limit > 0 && len(col.Items) >= req.Limit {
			c.logger.Debug("Limit reached, not following next link",
				slog.String("source", req.Source), slog.Int("limit", req.Limit))
			return nil
		}
		visited[next] = true

		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{Source: req.Source, Index: index, URL: next, Offset: -1, Err: err}
		}
		page, err := c.fetch(ctx, req, index, task{url: next, offset: -1})
		if err != nil {
			return err
		}
		col.Items = append(col.Items, page.Items...)
		col.Replay = append(col.Replay, c.fetcher.Curl(next))
		col.Pages++
		c.reportProgress(col.Pages, 0, fmt.Sprintf("%s: page %d", req.Source, col.Pages))

		next = page.Next
		index++
	}
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, req Request, index int, t task) (Page, error) {
	c.logger.Debug("Fetching page",
		slog.String("source", req.Source),
		slog.Int("index", index),
		slog.String("url", t.url),
		slog.String("curl", c.fetcher.Curl(t.url)))

	page, err := c.fetcher.FetchPage(ctx, t.url)
	if err != nil {
		return Page{}, &FetchError{Source: req.Source, Index: index, URL: t.url, Offset: t.offset, Err: err}
	}
	return page, nil
}

func (c *Coordinator) reportProgress(current, total int, message string) {
	if c.progressCallback == nil {
		return
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.progressCallback(current, total, message)
}

func linkTasks(links []Link, keep func(Link) bool) []task {
	tasks := make([]task, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		if keep != nil && !keep(l) {
			continue
		}
		tasks = append(tasks, task{url: l.URL, offset: -1})
	}
	return tasks
}

// offsetWant returns how many items an offset collection should hold.
func offsetWant(req Request, total int) int {
	want := total - req.Offset
	if want < 0 {
		want = 0
	}
	if req.Limit > 0 && req.Limit < want {
		want = req.Limit
	}
	return want
}

// offsetTasks plans the pages following a seed page that held size items.
func offsetTasks(req Request, want, size int) []task {
	var tasks []task
	end := req.Offset + want
	for offset := req.Offset + size; offset < end; offset += size {
		limit := min(size, end-offset)
		tasks = append(tasks, task{url: req.OffsetURL(offset, limit), offset: offset, limit: limit})
	}
	return tasks
}
