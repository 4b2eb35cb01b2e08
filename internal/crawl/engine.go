package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petstay/hotel-scraper/internal/metrics"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/ratelimit"
	"github.com/petstay/hotel-scraper/internal/storage"
)

// EngineOptions carries the engine's dependencies. Source, Session, Walker
// and Records are required; the rest degrade gracefully when nil.
type EngineOptions struct {
	Source     Source
	Session    Session
	Walker     *Walker
	Records    *storage.RecordStore
	Supervisor *Supervisor
	Limiter    ratelimit.RateLimiter
	Metrics    *metrics.CrawlMetrics
	Recorder   Recorder
	Logger     *slog.Logger
}

// Status is a point-in-time snapshot of a run, safe to serve from the
// monitor API while the crawl is going.
type Status struct {
	RunID             string               `json:"run_id"`
	Brand             string               `json:"brand"`
	State             string               `json:"state"`
	Position          models.CrawlPosition `json:"position"`
	Collections       int                  `json:"collections"`
	CurrentCollection string               `json:"current_collection,omitempty"`
	ItemsScraped      int                  `json:"items_scraped"`
	ItemsFailed       int                  `json:"items_failed"`
	PagesVisited      int                  `json:"pages_visited"`
	Records           int                  `json:"records"`
	StartedAt         time.Time            `json:"started_at,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
}

// Engine runs one brand's crawl end to end: it resumes from the last
// checkpoint, walks collections, pages and items, merges scraped records
// into the store and keeps the checkpoint current after every step. Item
// failures skip the slot; page and session failures abandon the collection;
// a watchdog stall aborts the run so the outer supervise loop can restart
// it.
type Engine struct {
	source   Source
	sess     Session
	walker   *Walker
	records  *storage.RecordStore
	sup      *Supervisor
	limiter  ratelimit.RateLimiter
	metrics  *metrics.CrawlMetrics
	recorder Recorder
	logger   *slog.Logger
	runID    string

	mu     sync.Mutex
	status Status
	stall  *StallError
}

// NewEngine validates opts and builds an engine with a fresh run ID.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine needs a source")
	}
	if opts.Session == nil {
		return nil, errors.New("engine needs a session")
	}
	if opts.Walker == nil {
		return nil, errors.New("engine needs a walker")
	}
	if opts.Records == nil {
		return nil, errors.New("engine needs a record store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sup := opts.Supervisor
	if sup == nil {
		sup = NewSupervisor(SupervisorConfig{Brand: opts.Source.Brand()}, opts.Session, opts.Metrics, logger)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	e := &Engine{
		source:   opts.Source,
		sess:     opts.Session,
		walker:   opts.Walker,
		records:  opts.Records,
		sup:      sup,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		recorder: recorder,
		logger:   logger.With("component", "engine", "brand", opts.Source.Brand()),
		runID:    uuid.NewString(),
	}
	e.status = Status{
		RunID: e.runID,
		Brand: opts.Source.Brand(),
		State: "idle",
	}
	return e, nil
}

// RunID returns the identifier stamped on this run's journal events.
func (e *Engine) RunID() string {
	return e.runID
}

// Status returns a snapshot of the run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Position = e.walker.Position()
	st.Records = e.records.Len()
	return st
}

// Run executes the crawl until done, canceled or stalled. A completed walk
// clears the checkpoint; any other exit leaves it in place for the next
// run to resume from.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.update(func(st *Status) {
		st.State = "starting"
		st.StartedAt = time.Now()
	})
	e.record(EventRunStarted, models.ZeroPosition(), "", "")

	var collections []Collection
	err := e.sup.Run(runCtx, "load collections", func(ctx context.Context) error {
		var err error
		collections, err = e.source.Collections(ctx, e.sess)
		return err
	})
	if err != nil {
		return e.fail(fmt.Errorf("loading collections: %w", err))
	}
	if len(collections) == 0 {
		return e.fail(ErrNoCollections)
	}
	e.update(func(st *Status) {
		st.Collections = len(collections)
		st.State = "running"
	})

	pos := e.walker.Resume()
	if pos.CollectionIndex >= len(collections) {
		e.logger.Warn("saved collection index beyond collection list, finishing",
			"saved", pos.CollectionIndex, "collections", len(collections))
		if err := e.walker.EndCollection(false); err != nil {
			return e.fail(err)
		}
		return e.complete()
	}

	stallCh := e.sup.Watch(runCtx)
	go func() {
		select {
		case <-runCtx.Done():
		case stall := <-stallCh:
			e.mu.Lock()
			e.stall = stall
			e.mu.Unlock()
			cancel()
		}
	}()

	for e.walker.State() != StateDone {
		if runCtx.Err() != nil {
			break
		}
		pos := e.walker.Position()
		col := collections[pos.CollectionIndex]
		e.update(func(st *Status) { st.CurrentCollection = col.Name })
		e.logger.Info("collection started",
			"collection", col.Name,
			"index", pos.CollectionIndex,
			"page", pos.Page)

		if err := e.crawlCollection(runCtx, col); err != nil {
			if runCtx.Err() != nil {
				break
			}
			e.logger.Error("collection abandoned", "collection", col.Name, "error", err)
			e.update(func(st *Status) { st.LastError = err.Error() })
			e.record(EventCollectionAbandoned, e.walker.Position(), "", err.Error())
		}

		hasMore := pos.CollectionIndex+1 < len(collections)
		if err := e.walker.EndCollection(hasMore); err != nil {
			return e.fail(err)
		}
		if hasMore {
			e.record(EventCollectionAdvanced, e.walker.Position(), "", col.Name)
		}
	}

	if runCtx.Err() != nil {
		e.mu.Lock()
		stall := e.stall
		e.mu.Unlock()
		if stall != nil {
			e.update(func(st *Status) { st.State = "stalled" })
			e.record(EventStallDetected, e.walker.Position(), "", stall.Error())
			return stall
		}
		e.update(func(st *Status) { st.State = "canceled" })
		return ctx.Err()
	}
	return e.complete()
}

// crawlCollection walks one collection's pages. Errors it returns mean the
// collection is being abandoned; the caller advances past it.
func (e *Engine) crawlCollection(ctx context.Context, col Collection) error {
	openPage := e.walker.Position().Page
	err := e.sup.Run(ctx, "open page", func(ctx context.Context) error {
		return e.source.OpenPage(ctx, e.sess, col, openPage)
	})
	if err != nil {
		return fmt.Errorf("opening page %d of %q: %w", openPage, col.Name, err)
	}

	for {
		var count int
		err := e.sup.Run(ctx, "count items", func(ctx context.Context) error {
			var err error
			count, err = e.source.Items(ctx, e.sess)
			return err
		})
		if err != nil {
			return fmt.Errorf("listing items on page %d of %q: %w", e.walker.Position().Page, col.Name, err)
		}

		start := e.walker.BeginPage(count)
		e.metrics.PageVisited(e.source.Brand())
		e.update(func(st *Status) { st.PagesVisited++ })
		e.logger.Info("page opened",
			"collection", col.Name,
			"page", e.walker.Position().Page,
			"items", count,
			"start", start)

		for i := start; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := e.scrapeOne(ctx, col, i); err != nil {
				return err
			}
		}

		hasNext := false
		err = e.sup.Run(ctx, "next page", func(ctx context.Context) error {
			var err error
			hasNext, err = e.source.NextPage(ctx, e.sess)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.Warn("pagination failed, closing collection",
				"collection", col.Name, "error", err)
			hasNext = false
		}
		if err := e.walker.EndPage(hasNext); err != nil {
			return err
		}
		if err := e.records.Flush(); err != nil {
			e.logger.Error("flushing records at page boundary", "error", err)
		}
		if !hasNext {
			return nil
		}
		e.record(EventPageAdvanced, e.walker.Position(), "", col.Name)
	}
}

// scrapeOne processes the card at index i on the current page. Item
// failures are absorbed here: the slot is skipped and the walk continues.
// The returned error is non-nil only for cancellation or a checkpoint that
// can no longer be persisted.
func (e *Engine) scrapeOne(ctx context.Context, col Collection, i int) error {
	pos := e.walker.Position()
	pos.ItemIndex = i
	began := time.Now()

	var rec models.Record
	err := e.sup.Run(ctx, "scrape item", func(ctx context.Context) error {
		r, err := e.source.ScrapeItem(ctx, e.sess, col, pos)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	e.metrics.ObserveItem(time.Since(began))

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		itemErr := &ItemError{Collection: col.Name, Page: pos.Page, Index: i, Err: err}
		e.logger.Error("item abandoned",
			"collection", col.Name, "page", pos.Page, "item", i, "error", err)
		e.metrics.ItemFailed(e.source.Brand())
		e.update(func(st *Status) {
			st.ItemsFailed++
			st.LastError = itemErr.Error()
		})
		e.record(EventItemFailed, pos, "", itemErr.Error())
		return e.walker.SkipItem()
	}

	if rec == nil {
		// Source filtered the card out, such as a duplicate listing.
		e.sup.RecordSuccess()
		return e.walker.ItemDone()
	}

	stats, err := e.records.Upsert(rec)
	if err != nil {
		e.logger.Error("persisting record", "hotel_code", rec.StringField(models.FieldHotelCode), "error", err)
	}
	e.metrics.ItemScraped(e.source.Brand())
	e.metrics.FieldsFilled(e.source.Brand(), stats.Filled)
	e.sup.RecordSuccess()
	e.update(func(st *Status) { st.ItemsScraped++ })
	e.record(EventItemScraped, pos, rec.StringField(models.FieldHotelCode), rec.StringField(models.FieldHotelName))
	return e.walker.ItemDone()
}

func (e *Engine) complete() error {
	if err := e.records.Flush(); err != nil {
		e.logger.Error("final record flush", "error", err)
	}
	e.update(func(st *Status) { st.State = "done" })
	e.record(EventRunCompleted, e.walker.Position(), "", "")
	e.logger.Info("run complete",
		"records", e.records.Len(),
		"scraped", e.Status().ItemsScraped,
		"failed", e.Status().ItemsFailed)
	return nil
}

func (e *Engine) fail(err error) error {
	e.update(func(st *Status) {
		st.State = "failed"
		st.LastError = err.Error()
	})
	e.record(EventRunFailed, e.walker.Position(), "", err.Error())
	return err
}

func (e *Engine) update(fn func(st *Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}

func (e *Engine) record(t EventType, pos models.CrawlPosition, code, detail string) {
	e.recorder.Record(Event{
		ID:        uuid.NewString(),
		RunID:     e.runID,
		Brand:     e.source.Brand(),
		Type:      t,
		Position:  pos,
		HotelCode: code,
		Detail:    detail,
		At:        time.Now(),
	})
}
