package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"probity/core/events"
	"probity/core/types"
)

var errNilDB = errors.New("journal: db is required")

// Open connects to the journal database. postgres:// and postgresql:// DSNs
// use the postgres driver; anything else is treated as a sqlite DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal: empty dsn")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Journal persists settlement events in emission order.
type Journal struct {
	mu       sync.Mutex
	db       *gorm.DB
	logger   *slog.Logger
	now      func() time.Time
	sequence uint64
}

// New wraps a migrated database. Sequencing resumes after the highest
// journaled entry.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errNilDB
	}
	if log == nil {
		log = slog.Default()
	}
	var last uint64
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: read sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, sequence: last}, nil
}

// Emit implements events.Emitter. Persistence failures are logged because
// emitters cannot fail the operation that produced the event.
func (j *Journal) Emit(e events.Event) {
	if e == nil {
		return
	}
	if _, err := j.Append(context.Background(), e); err != nil {
		j.logger.Error("journal append failed",
			slog.String("type", e.EventType()),
			slog.Any("error", err))
	}
}

// Append stores e and returns the stored entry.
func (j *Journal) Append(ctx context.Context, e events.Event) (Entry, error) {
	if e == nil {
		return Entry{}, fmt.Errorf("journal: nil event")
	}
	entry := Entry{ID: uuid.New(), Type: e.EventType(), OccurredAt: j.now().UTC()}
	if settlement, ok := e.(events.Settlement); ok {
		entry.Caller = settlement.Caller.Hex()
		if !settlement.Asset.IsZero() {
			entry.Asset = settlement.Asset.String()
		}
		if settlement.User != (common.Address{}) {
			entry.Holder = settlement.User.Hex()
		}
		entry.Target = settlement.Target
		if settlement.At != 0 {
			entry.OccurredAt = time.Unix(settlement.At, 0).UTC()
		}
	}
	if typed, ok := e.(interface{ Event() *types.Event }); ok {
		if evt := typed.Event(); evt != nil {
			raw, err := json.Marshal(evt.Attributes)
			if err != nil {
				return Entry{}, fmt.Errorf("journal: encode attributes: %w", err)
			}
			entry.Attributes = string(raw)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry.Sequence = j.sequence + 1
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	j.sequence = entry.Sequence
	return entry, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type   string
	Holder string
	Since  time.Time
	Limit  int
}

// List returns journaled entries in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := j.db.WithContext(ctx).Model(&Entry{}).Order("sequence ASC")
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Holder != "" {
		query = query.Where("holder = ?", filter.Holder)
	}
	if !filter.Since.IsZero() {
		query = query.Where("occurred_at >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Decode returns the attribute map stored with the entry.
func (e Entry) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(e.Attributes) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return attrs, nil
}
