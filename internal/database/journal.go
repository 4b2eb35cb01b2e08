package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/queue"
)

// EventStore persists a batch of journal events. Split out as an interface
// so the writer can be tested without Postgres.
type EventStore interface {
	SaveEvents(ctx context.Context, events []crawl.Event) error
}

// JournalStore writes crawl runs and events to Postgres. Each batch lands
// in one transaction together with its outbox rows, so an event is either
// fully journaled or absent.
type JournalStore struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewJournalStore(db *DB, stream string) *JournalStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &JournalStore{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

func (s *JournalStore) SaveEvents(ctx context.Context, events []crawl.Event) error {
	if len(events) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		for i := range events {
			if err := s.saveEvent(ctx, tx, &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *JournalStore) saveEvent(ctx context.Context, tx pgx.Tx, ev *crawl.Event) error {
	runID, err := uuid.Parse(ev.RunID)
	if err != nil {
		return fmt.Errorf("bad run id %q: %w", ev.RunID, err)
	}

	if err := s.updateRun(ctx, tx, runID, ev); err != nil {
		return err
	}

	eventID, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("bad event id %q: %w", ev.ID, err)
	}

	query := `
		INSERT INTO crawl_event (
			id, run_id, brand, event_type,
			collection_index, page, item_index,
			hotel_code, detail, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err = tx.Exec(ctx, query,
		eventID, runID, ev.Brand, string(ev.Type),
		ev.Position.CollectionIndex, ev.Position.Page, ev.Position.ItemIndex,
		ev.HotelCode, ev.Detail, ev.At,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crawl event: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return s.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   ev.RunID,
		EventType:     string(ev.Type),
		Payload:       payload,
		TargetStream:  s.stream,
	})
}

// updateRun keeps the crawl_run row in step with run lifecycle events.
func (s *JournalStore) updateRun(ctx context.Context, tx pgx.Tx, runID uuid.UUID, ev *crawl.Event) error {
	var query string
	var args []interface{}

	switch ev.Type {
	case crawl.EventRunStarted:
		query = `
			INSERT INTO crawl_run (id, brand, state, started_at)
			VALUES ($1, $2, 'running', $3)
			ON CONFLICT (id) DO NOTHING`
		args = []interface{}{runID, ev.Brand, ev.At}
	case crawl.EventRunCompleted:
		query = `UPDATE crawl_run SET state = 'done', finished_at = $2 WHERE id = $1`
		args = []interface{}{runID, ev.At}
	case crawl.EventRunFailed:
		query = `UPDATE crawl_run SET state = 'failed', finished_at = $2, last_error = $3 WHERE id = $1`
		args = []interface{}{runID, ev.At, ev.Detail}
	case crawl.EventStallDetected:
		query = `UPDATE crawl_run SET state = 'stalled', finished_at = $2, last_error = $3 WHERE id = $1`
		args = []interface{}{runID, ev.At, ev.Detail}
	default:
		return nil
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update crawl run: %w", err)
	}
	return nil
}

// RunRecord is one row of crawl_run.
type RunRecord struct {
	ID         uuid.UUID  `db:"id"`
	Brand      string     `db:"brand"`
	State      string     `db:"state"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	LastError  *string    `db:"last_error"`
}

// RecentRuns returns the latest runs for a brand, newest first. An empty
// brand returns runs across all brands.
func (s *JournalStore) RecentRuns(ctx context.Context, brand string, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, brand, state, started_at, finished_at, last_error
		FROM crawl_run
		WHERE ($1 = '' OR brand = $1)
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := s.db.pool.Query(ctx, query, brand, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(&r.ID, &r.Brand, &r.State, &r.StartedAt, &r.FinishedAt, &r.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// Journal buffers crawl events in memory and persists them from a single
// writer goroutine, so recording an event never blocks the crawl.
type Journal struct {
	store     EventStore
	queue     *queue.EventQueue
	logger    *slog.Logger
	batchSize int
	wg        sync.WaitGroup
}

func NewJournal(store EventStore, bufferSize int, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:     store,
		queue:     queue.NewEventQueue(bufferSize),
		logger:    logger.With("component", "journal"),
		batchSize: 64,
	}
}

var _ crawl.Recorder = (*Journal)(nil)

// Record buffers an event for the writer. A full buffer drops the oldest
// event rather than blocking.
func (j *Journal) Record(ev crawl.Event) {
	// Push only fails once the journal is shutting down.
	_ = j.queue.Push(ev)
}

// Start launches the writer goroutine.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.loop(ctx)
}

func (j *Journal) loop(ctx context.Context) {
	defer j.wg.Done()

	for {
		ev, err := j.queue.Pop(ctx)
		if err != nil {
			j.flushRemaining()
			return
		}

		batch := append([]crawl.Event{ev}, j.queue.Drain(j.batchSize-1)...)
		j.save(ctx, batch)
	}
}

func (j *Journal) save(ctx context.Context, batch []crawl.Event) {
	if err := j.store.SaveEvents(ctx, batch); err != nil {
		j.logger.Error("failed to persist journal events", "count", len(batch), "error", err)
	}
}

// flushRemaining drains whatever is still buffered after the writer loop
// ends. Uses its own context so shutdown flushes are not cut short.
func (j *Journal) flushRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		batch := j.queue.Drain(j.batchSize)
		if len(batch) == 0 {
			return
		}
		j.save(ctx, batch)
	}
}

// Close flushes buffered events and stops the writer.
func (j *Journal) Close() {
	j.queue.Close()
	j.wg.Wait()

	if n := j.queue.Dropped(); n > 0 {
		j.logger.Warn("journal buffer overflowed during run", "dropped", n)
	}
}
