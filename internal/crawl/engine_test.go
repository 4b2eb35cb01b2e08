package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/storage"
)

type fakeSession struct {
	restarts int
}

func (f *fakeSession) Navigate(context.Context, string) error { return nil }
func (f *fakeSession) Find(context.Context, string) ([]Element, error) {
	return nil, nil
}
func (f *fakeSession) WaitVisible(context.Context, string, time.Duration) (Element, error) {
	return nil, nil
}
func (f *fakeSession) Click(context.Context, string) error     { return nil }
func (f *fakeSession) Press(context.Context, string) error     { return nil }
func (f *fakeSession) Evaluate(context.Context, string) (any, error) {
	return nil, nil
}
func (f *fakeSession) CurrentURL(context.Context) (string, error) { return "", nil }
func (f *fakeSession) Loaded(context.Context) bool                { return true }
func (f *fakeSession) Humanize(context.Context) error             { return nil }
func (f *fakeSession) Restart(context.Context) error {
	f.restarts++
	return nil
}

// fakeSource serves records from an in-memory page table keyed by
// collection name. Failure injection uses "collection/page/item" keys.
type fakeSource struct {
	brand       string
	collections []Collection
	pages       map[string][][]models.Record

	failItems        map[string]int // key -> remaining failures
	sessionFailItems map[string]int
	failOpen         map[string]bool

	curCol  string
	curPage int
	opened  []string
	scraped []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		brand:            "testbrand",
		pages:            map[string][][]models.Record{},
		failItems:        map[string]int{},
		sessionFailItems: map[string]int{},
		failOpen:         map[string]bool{},
	}
}

func (f *fakeSource) addCollection(name string, pages ...[]models.Record) {
	f.collections = append(f.collections, Collection{Name: name, URL: "https://example.com/" + name})
	f.pages[name] = pages
}

func itemKey(col string, page, item int) string {
	return fmt.Sprintf("%s/%d/%d", col, page, item)
}

func (f *fakeSource) Brand() string { return f.brand }

func (f *fakeSource) Collections(context.Context, Session) ([]Collection, error) {
	return f.collections, nil
}

func (f *fakeSource) OpenPage(_ context.Context, _ Session, col Collection, page int) error {
	if f.failOpen[col.Name] {
		return errors.New("results page did not load")
	}
	f.curCol = col.Name
	f.curPage = page
	f.opened = append(f.opened, fmt.Sprintf("%s/%d", col.Name, page))
	return nil
}

func (f *fakeSource) Items(context.Context, Session) (int, error) {
	pages := f.pages[f.curCol]
	if f.curPage < 1 || f.curPage > len(pages) {
		return 0, nil
	}
	return len(pages[f.curPage-1]), nil
}

func (f *fakeSource) ScrapeItem(_ context.Context, _ Session, col Collection, pos models.CrawlPosition) (models.Record, error) {
	key := itemKey(col.Name, pos.Page, pos.ItemIndex)
	if n := f.sessionFailItems[key]; n > 0 {
		f.sessionFailItems[key] = n - 1
		return nil, NewSessionError("scrape", errors.New("page crashed"))
	}
	if n := f.failItems[key]; n > 0 {
		f.failItems[key] = n - 1
		return nil, errors.New("card markup changed")
	}
	rec := f.pages[col.Name][pos.Page-1][pos.ItemIndex]
	if rec == nil {
		return nil, nil
	}
	f.scraped = append(f.scraped, rec.StringField(models.FieldHotelCode))
	return rec.Clone(), nil
}

func (f *fakeSource) NextPage(context.Context, Session) (bool, error) {
	if f.curPage < len(f.pages[f.curCol]) {
		f.curPage++
		return true, nil
	}
	return false, nil
}

func (f *fakeSource) Columns() []string {
	return []string{models.FieldHotelCode, models.FieldHotelName, models.FieldCity}
}

func hotel(code string) models.Record {
	r := models.NewRecord(code, "Hotel "+code)
	r[models.FieldCity] = "Testville"
	return r
}

type engineFixture struct {
	engine      *Engine
	source      *fakeSource
	session     *fakeSession
	checkpoints *storage.CheckpointStore
	records     *storage.RecordStore
}

func newEngineFixture(t *testing.T, source *fakeSource, cfg SupervisorConfig) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.Default()

	checkpoints := storage.NewCheckpointStore(filepath.Join(dir, "checkpoint.json"), logger)
	records, err := storage.NewRecordStore(
		filepath.Join(dir, "hotels.json"),
		filepath.Join(dir, "hotels.csv"),
		source.Columns(),
		storage.CSVAppend,
		logger,
	)
	require.NoError(t, err)

	session := &fakeSession{}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = time.Hour
		cfg.StallInterval = time.Hour
	}
	cfg.Brand = source.Brand()
	sup := NewSupervisor(cfg, session, nil, logger)
	sup.sleep = func(context.Context, time.Duration) error { return nil }

	engine, err := NewEngine(EngineOptions{
		Source:     source,
		Session:    session,
		Walker:     NewWalker(checkpoints, nil, logger),
		Records:    records,
		Supervisor: sup,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &engineFixture{
		engine:      engine,
		source:      source,
		session:     session,
		checkpoints: checkpoints,
		records:     records,
	}
}

func TestEngineWalksEverythingAndClearsCheckpoint(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), hotel("A2")},
		[]models.Record{hotel("A3"), hotel("A4")},
	)
	source.addCollection("boston",
		[]models.Record{hotel("B1"), hotel("B2")},
	)
	fx := newEngineFixture(t, source, SupervisorConfig{})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, 6, fx.records.Len())
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "B1", "B2"}, source.scraped)
	assert.True(t, fx.checkpoints.Load().IsZero())
	// Each collection is opened once at page 1; later pages use pagination.
	assert.Equal(t, []string{"austin/1", "boston/1"}, source.opened)

	st := fx.engine.Status()
	assert.Equal(t, "done", st.State)
	assert.Equal(t, 6, st.ItemsScraped)
	assert.Equal(t, 0, st.ItemsFailed)
	assert.Equal(t, 3, st.PagesVisited)
}

func TestEngineResumesMidCollection(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), hotel("A2")},
	)
	source.addCollection("boston",
		[]models.Record{hotel("B1"), hotel("B2")},
		[]models.Record{hotel("B3"), hotel("B4")},
	)
	fx := newEngineFixture(t, source, SupervisorConfig{})
	require.NoError(t, fx.checkpoints.Save(models.CrawlPosition{CollectionIndex: 1, Page: 2, ItemIndex: 1}))

	require.NoError(t, fx.engine.Run(context.Background()))

	// Only the one unprocessed item is scraped; the resume page is opened
	// directly instead of paging from the start.
	assert.Equal(t, []string{"B4"}, source.scraped)
	assert.Equal(t, []string{"boston/2"}, source.opened)
	assert.True(t, fx.checkpoints.Load().IsZero())
}

func TestEngineSkipsPermanentlyFailingItem(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), hotel("A2"), hotel("A3")},
	)
	source.failItems[itemKey("austin", 1, 1)] = 100
	fx := newEngineFixture(t, source, SupervisorConfig{MaxAttempts: 3})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, []string{"A1", "A3"}, source.scraped)
	assert.Equal(t, 2, fx.records.Len())
	assert.True(t, fx.checkpoints.Load().IsZero())

	st := fx.engine.Status()
	assert.Equal(t, 1, st.ItemsFailed)
	assert.Contains(t, st.LastError, "item 1 on page 1")
	// The failing slot got exactly MaxAttempts tries before being skipped.
	assert.Equal(t, 97, source.failItems[itemKey("austin", 1, 1)])
}

func TestEngineRetriesTransientItemFailure(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1")},
	)
	source.failItems[itemKey("austin", 1, 0)] = 1
	fx := newEngineFixture(t, source, SupervisorConfig{MaxAttempts: 3})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, []string{"A1"}, source.scraped)
	assert.Equal(t, 0, fx.engine.Status().ItemsFailed)
}

func TestEngineRestartsSessionOnSessionFailure(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), hotel("A2")},
	)
	source.sessionFailItems[itemKey("austin", 1, 0)] = 1
	fx := newEngineFixture(t, source, SupervisorConfig{MaxAttempts: 3})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, 1, fx.session.restarts)
	assert.Equal(t, []string{"A1", "A2"}, source.scraped)
}

func TestEngineAbandonsUnreachableCollection(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1")},
	)
	source.addCollection("boston",
		[]models.Record{hotel("B1")},
	)
	source.failOpen["austin"] = true
	fx := newEngineFixture(t, source, SupervisorConfig{})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, []string{"B1"}, source.scraped)
	assert.Equal(t, 1, fx.records.Len())
	assert.True(t, fx.checkpoints.Load().IsZero())
	assert.Contains(t, fx.engine.Status().LastError, "austin")
}

func TestEngineStaleCollectionIndexFinishesCleanly(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1")},
	)
	fx := newEngineFixture(t, source, SupervisorConfig{})
	require.NoError(t, fx.checkpoints.Save(models.CrawlPosition{CollectionIndex: 7, Page: 1, ItemIndex: 0}))

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Empty(t, source.scraped)
	assert.True(t, fx.checkpoints.Load().IsZero())
}

func TestEngineSkipsFilteredCards(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), nil, hotel("A3")},
	)
	fx := newEngineFixture(t, source, SupervisorConfig{})

	require.NoError(t, fx.engine.Run(context.Background()))

	assert.Equal(t, []string{"A1", "A3"}, source.scraped)
	assert.Equal(t, 2, fx.records.Len())
	assert.Equal(t, 0, fx.engine.Status().ItemsFailed)
}

func TestEngineWithoutCollectionsFails(t *testing.T) {
	source := newFakeSource()
	fx := newEngineFixture(t, source, SupervisorConfig{MaxAttempts: 1})

	err := fx.engine.Run(context.Background())

	assert.ErrorIs(t, err, ErrNoCollections)
	assert.Equal(t, "failed", fx.engine.Status().State)
}

func TestEngineStallAbortsRunAndKeepsCheckpoint(t *testing.T) {
	source := newFakeSource()
	source.addCollection("austin",
		[]models.Record{hotel("A1"), hotel("A2")},
	)
	fx := newEngineFixture(t, source, SupervisorConfig{
		MaxAttempts:    1,
		StallThreshold: 30 * time.Millisecond,
		StallInterval:  5 * time.Millisecond,
	})
	// The second card hangs until the run is canceled.
	blocker := &blockingSource{fakeSource: source, blockKey: itemKey("austin", 1, 1)}
	fx.engine.source = blocker

	err := fx.engine.Run(context.Background())

	require.Error(t, err)
	assert.True(t, IsStall(err))
	assert.Equal(t, "stalled", fx.engine.Status().State)
	// The first item's progress survives for the next run to resume from.
	assert.Equal(t, 1, fx.checkpoints.Load().ItemIndex)
	assert.False(t, fx.checkpoints.Load().IsZero())
}

type blockingSource struct {
	*fakeSource
	blockKey string
}

func (b *blockingSource) ScrapeItem(ctx context.Context, sess Session, col Collection, pos models.CrawlPosition) (models.Record, error) {
	if itemKey(col.Name, pos.Page, pos.ItemIndex) == b.blockKey {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.fakeSource.ScrapeItem(ctx, sess, col, pos)
}
