package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nhbmarket/core/events"
)

// EventRecord is a committed notification persisted for history queries.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   int64     `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	ListingID  uint64    `gorm:"index"`
	Collection string    `gorm:"size:96;index"`
	Attributes string    `gorm:"type:text"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// AttributeMap decodes the stored attribute payload.
func (r EventRecord) AttributeMap() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}

const defaultQueueSize = 1024

// Store writes committed events into a relational database. Emit hands events
// to a single writer goroutine so history keeps emission order.
type Store struct {
	db     *gorm.DB
	log    *slog.Logger
	nowFn  func() time.Time
	mu     sync.Mutex
	nextID int64

	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan writeJob
	stopped chan struct{}
}

type writeJob struct {
	evt   events.Event
	at    time.Time
	flush chan struct{}
}

// Open connects to the database named by dsn. postgres:// URLs use the
// Postgres driver; anything else is treated as a SQLite DSN.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle, migrating the schema first.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	next := int64(1)
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	if last.Sequence > 0 {
		next = last.Sequence + 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	store := &Store{
		db:      db,
		log:     slog.Default(),
		nowFn:   time.Now,
		nextID:  next,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan writeJob, defaultQueueSize),
		stopped: make(chan struct{}),
	}
	go store.worker()
	return store, nil
}

// SetLogger overrides the logger used to report write failures from Emit.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// Emit implements events.Emitter. The event is queued for the writer; a full
// queue applies backpressure instead of dropping history. Write failures are
// logged, never propagated, because the ledger has already committed.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if s.ctx.Err() != nil {
		s.log.Error("indexer closed, event not recorded", "type", evt.EventType())
		return
	}
	job := writeJob{evt: evt, at: s.nowFn().UTC()}
	select {
	case s.queue <- job:
		return
	default:
	}
	s.log.Warn("indexer queue full", "type", evt.EventType(), "pending", len(s.queue))
	select {
	case s.queue <- job:
	case <-s.ctx.Done():
		s.log.Error("indexer closed, event not recorded", "type", evt.EventType())
	}
}

// Flush blocks until every event queued before the call has been written.
func (s *Store) Flush(ctx context.Context) error {
	if s == nil || s.queue == nil {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.queue <- writeJob{flush: done}:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) worker() {
	defer close(s.stopped)
	for {
		select {
		case job := <-s.queue:
			s.process(job)
		case <-s.ctx.Done():
			for {
				select {
				case job := <-s.queue:
					s.process(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) process(job writeJob) {
	if job.flush != nil {
		close(job.flush)
		return
	}
	if err := s.record(context.Background(), job.evt, job.at); err != nil {
		s.log.Error("indexer write failed", "error", err, "type", job.evt.EventType())
	}
}

// Record persists a single event synchronously.
func (s *Store) Record(ctx context.Context, evt events.Event) error {
	if s == nil {
		return errors.New("indexer: store not initialised")
	}
	return s.record(ctx, evt, s.nowFn().UTC())
}

func (s *Store) record(ctx context.Context, evt events.Event, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("indexer: store not initialised")
	}
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return nil
	}
	raw := payload.Event()
	encoded, err := json.Marshal(raw.Attributes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   s.nextID,
		Type:       raw.Type,
		Collection: raw.Attributes["assetContract"],
		Attributes: string(encoded),
		EmittedAt:  at,
	}
	if record.Collection == "" {
		record.Collection = raw.Attributes["collection"]
	}
	if id, err := strconv.ParseUint(raw.Attributes["listingId"], 10, 64); err == nil {
		record.ListingID = id
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("indexer: insert: %w", err)
	}
	s.nextID++
	return nil
}

// ListingEvents returns the history of a listing in emission order.
func (s *Store) ListingEvents(ctx context.Context, listingID uint64, limit int) ([]EventRecord, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	var out []EventRecord
	q := s.db.WithContext(ctx).Where("listing_id = ?", listingID).Order("sequence asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the newest events, optionally filtered by type and
// collection, newest first.
func (s *Store) Recent(ctx context.Context, eventType, collection string, limit int) ([]EventRecord, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	var out []EventRecord
	q := s.db.WithContext(ctx).Order("sequence desc")
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	if collection = strings.TrimSpace(collection); collection != "" {
		q = q.Where("collection = ?", collection)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close writes any queued events, stops the writer and releases the
// underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.stopped
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
