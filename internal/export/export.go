package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/cx1export/internal/cxone"
	"github.com/ppiankov/cx1export/internal/normalize"
	"github.com/ppiankov/cx1export/internal/pagination"
	"github.com/ppiankov/cx1export/internal/report"
)

// State is a stage of an export run.
type State string

const (
	StateConfigured  State = "CONFIGURED"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateAssembling  State = "ASSEMBLING"
	StateWritten     State = "WRITTEN"
	StateFailed      State = "FAILED"
)

// API is the Checkmarx One surface an export needs.
type API interface {
	pagination.Fetcher
	AuditURL() string
	ScansRequest(q cxone.ScanQuery, offset, limit, pageSize int) pagination.Request
}

// Archiver copies written files elsewhere and returns their new locations.
type Archiver interface {
	Upload(ctx context.Context, paths []string) ([]string, error)
}

// SinkFactory creates the sink receiving the tables of sources.
type SinkFactory func(opts Options, naming report.Naming, sources []normalize.SourceKind) report.Sink

// DefaultSink writes one CSV file per table, or one workbook per run.
func DefaultSink(opts Options, naming report.Naming, sources []normalize.SourceKind) report.Sink {
	if opts.Output == OutputCSV {
		return report.NewCSVSink(opts.Dir, naming, opts.NullValue)
	}
	return report.NewXLSXSink(opts.Dir, naming.WorkbookName(sources...), opts.NullValue)
}

// Exporter runs exports. It is not safe for concurrent use.
type Exporter struct {
	api      API
	logger   *slog.Logger
	now      func() time.Time
	newSink  SinkFactory
	archiver Archiver
	progress func(source string) pagination.ProgressCallback

	state   State
	history []State
}

// New creates an Exporter reading from api.
func New(api API, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		api:     api,
		logger:  logger,
		now:     time.Now,
		newSink: DefaultSink,
	}
}

// SetSinkFactory replaces the sink factory.
func (e *Exporter) SetSinkFactory(f SinkFactory) {
	if f != nil {
		e.newSink = f
	}
}

// SetArchiver uploads written files after a run.
func (e *Exporter) SetArchiver(a Archiver) {
	e.archiver = a
}

// SetProgress sets a per-source page progress callback.
func (e *Exporter) SetProgress(f func(source string) pagination.ProgressCallback) {
	e.progress = f
}

// SetClock sets the clock used to resolve the default date range.
func (e *Exporter) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// History returns the states of the last run in order.
func (e *Exporter) History() []State {
	return append([]State(nil), e.history...)
}

func (e *Exporter) transition(to State) {
	e.logger.Debug("Export state", slog.String("from", string(e.state)), slog.String("to", string(to)))
	e.state = to
	e.history = append(e.history, to)
}

type sourceData struct {
	kind   normalize.SourceKind
	items  []pagination.Record
	tables []report.Table
}

// Run performs one export. A source that fails to fetch is left out of the
// output; the remaining sources are still written. The returned summary is
// complete even when err is non-nil.
func (e *Exporter) Run(ctx context.Context, opts Options) (report.Summary, error) {
	started := time.Now()
	e.state = ""
	e.history = nil
	e.transition(StateConfigured)

	opts = opts.withDefaults()
	summary := report.Summary{
		RunID:     uuid.NewString(),
		Timestamp: e.now(),
		Config: report.Config{
			Tenant:      opts.Tenant,
			Mode:        string(opts.Mode),
			FromDate:    opts.FromDate,
			ToDate:      opts.ToDate,
			Output:      opts.Output,
			ThreadCount: opts.ThreadCount,
			Limit:       opts.Limit,
			Offset:      opts.Offset,
			Dir:         opts.Dir,
		},
	}
	finish := func(errs []error) (report.Summary, error) {
		summary.Duration = time.Since(started)
		err := errors.Join(errs...)
		if err != nil {
			for _, failure := range errs {
				summary.Errors = append(summary.Errors, errorLines(failure)...)
			}
			e.transition(StateFailed)
		}
		summary.State = string(e.state)
		return summary, err
	}

	if err := opts.Validate(); err != nil {
		return finish([]error{err})
	}
	rng := opts.resolveRange(e.now())
	summary.Config.FromDate = rng.fromText
	summary.Config.ToDate = rng.toText
	logger := e.logger.With(slog.String("run_id", summary.RunID))

	var errs []error
	e.transition(StateFetching)
	var fetched []*sourceData
	for _, kind := range opts.Mode.Sources() {
		res := report.SourceResult{Name: kind.String()}
		col, err := e.fetchSource(ctx, kind, opts, rng)
		if err != nil {
			logger.Error("Source fetch failed", slog.String("source", kind.String()), slog.String("error", err.Error()))
			res.Error = err.Error()
			errs = append(errs, err)
		} else {
			res.Records = len(col.Items)
			res.Pages = col.Pages
			fetched = append(fetched, &sourceData{kind: kind, items: col.Items})
			logger.Info("Source fetched",
				slog.String("source", kind.String()),
				slog.Int("records", len(col.Items)),
				slog.Int("pages", col.Pages))
		}
		summary.Sources = append(summary.Sources, res)
	}
	if len(fetched) == 0 {
		return finish(errs)
	}

	e.transition(StateNormalizing)
	n := normalize.New(logger)
	for _, src := range fetched {
		src.tables = report.Group(n.NormalizeAll(src.items, src.kind))
		src.items = nil
	}
	summary.Warnings = len(n.Warnings())

	e.transition(StateAssembling)
	naming := report.Naming{
		Tenant:      opts.Tenant,
		From:        rng.fromText,
		To:          rng.toText,
		LimitOffset: opts.Mode == ModeScan,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	assembler := report.NewAssembler(logger)
	for _, g := range e.outputGroups(opts, fetched) {
		paths, results, err := assembler.Write(g.tables, e.newSink(opts, naming, g.sources))
		summary.Files = append(summary.Files, paths...)
		summary.Tables = append(summary.Tables, results...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if e.archiver != nil && len(summary.Files) > 0 {
		keys, err := e.archiver.Upload(ctx, summary.Files)
		summary.Archived = keys
		if err != nil {
			logger.Error("Archive upload failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		e.transition(StateWritten)
	}
	return finish(errs)
}

func (e *Exporter) fetchSource(ctx context.Context, kind normalize.SourceKind, opts Options, rng dateRange) (*pagination.Collection, error) {
	coord, err := pagination.NewCoordinator(e.api, opts.ThreadCount)
	if err != nil {
		return nil, err
	}
	coord.SetLogger(e.logger)
	coord.SetRateLimit(opts.RateLimit)
	if opts.CollectionTimeout > 0 {
		coord.SetTimeout(opts.CollectionTimeout)
	}
	if e.progress != nil {
		coord.SetProgressCallback(e.progress(kind.String()))
	}

	var req pagination.Request
	switch kind {
	case normalize.SourceAudit:
		req = pagination.Request{
			Source:   kind.String(),
			URL:      e.api.AuditURL(),
			KeepLink: rng.keepLink,
		}
	default:
		req = e.api.ScansRequest(cxone.ScanQuery{From: rng.from, To: rng.to}, opts.Offset, opts.Limit, opts.PageSize)
	}

	col, err := coord.FetchAll(ctx, req)
	if err != nil {
		return nil, err
	}
	if kind == normalize.SourceAudit {
		col.Items = rng.filterEvents(col.Items)
	}
	return col, nil
}

type outputGroup struct {
	sources []normalize.SourceKind
	tables  []report.Table
}

// outputGroups splits fetched tables by sink: one sink per source for CSV,
// a single workbook for Excel.
func (e *Exporter) outputGroups(opts Options, fetched []*sourceData) []outputGroup {
	if opts.Output == OutputCSV {
		groups := make([]outputGroup, 0, len(fetched))
		for _, src := range fetched {
			groups = append(groups, outputGroup{sources: []normalize.SourceKind{src.kind}, tables: src.tables})
		}
		return groups
	}

	g := outputGroup{sources: opts.Mode.Sources()}
	for _, src := range fetched {
		g.tables = append(g.tables, src.tables...)
	}
	return []outputGroup{g}
}

// errorLines lists the messages of a possibly joined error.
func errorLines(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var lines []string
		for _, inner := range joined.Unwrap() {
			lines = append(lines, errorLines(inner)...)
		}
		return lines
	}
	return []string{err.Error()}
}
