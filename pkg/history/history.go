// Package history records completed transmissions to SQLite. The
// recorder only consumes events; the relay path never reads it, so
// the reflector stays stateless across restarts.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Use modernc.org/sqlite (pure Go, no CGO)
	"gorm.io/driver/sqlite"
	_ "modernc.org/sqlite"

	"github.com/svxgo/svxreflector/pkg/config"
	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/reflector"
)

// TalkEvent is one completed transmission
type TalkEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Callsign  string    `gorm:"index;not null" json:"callsign"`
	TG        uint32    `gorm:"index;not null" json:"tg"`
	StartTime time.Time `gorm:"index;not null" json:"start_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
	Duration  float64   `gorm:"not null" json:"duration"` // Seconds
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for TalkEvent
func (TalkEvent) TableName() string {
	return "talk_events"
}

type talkKey struct {
	callsign string
	tg       uint32
}

// Recorder consumes reflector events and persists completed
// transmissions. It implements reflector.EventSink.
type Recorder struct {
	db     *gorm.DB
	log    *logger.Logger
	events chan reflector.Event

	mu   sync.Mutex
	open map[talkKey]time.Time
}

// NewRecorder opens the history database and migrates the schema
func NewRecorder(cfg config.HistoryConfig, log *logger.Logger) (*Recorder, error) {
	if cfg.Path == "" {
		cfg.Path = "svxreflector.db"
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	// Open with the pure Go driver via the Dialector interface
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        cfg.Path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL mode keeps readers from blocking the recorder
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&TalkEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}

	return &Recorder{
		db:     db,
		log:    log.WithComponent("history"),
		events: make(chan reflector.Event, 256),
		open:   make(map[talkKey]time.Time),
	}, nil
}

// Publish implements reflector.EventSink. Events are dropped when the
// recorder falls behind; the relay path never waits on the database.
func (r *Recorder) Publish(e reflector.Event) {
	select {
	case r.events <- e:
	default:
	}
}

// Start drains events until the context is canceled
func (r *Recorder) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.events:
			r.ProcessEvent(e)
		}
	}
}

// ProcessEvent folds one event into the open-transmission state and
// writes a record when a transmission completes
func (r *Recorder) ProcessEvent(e reflector.Event) {
	switch e.Kind {
	case reflector.EventTalkerStart:
		r.mu.Lock()
		r.open[talkKey{callsign: e.Callsign, tg: e.TG}] = e.Time
		r.mu.Unlock()

	case reflector.EventTalkerStop:
		key := talkKey{callsign: e.Callsign, tg: e.TG}
		r.mu.Lock()
		start, ok := r.open[key]
		delete(r.open, key)
		r.mu.Unlock()
		if !ok {
			return
		}

		record := TalkEvent{
			Callsign:  e.Callsign,
			TG:        e.TG,
			StartTime: start,
			EndTime:   e.Time,
			Duration:  e.Time.Sub(start).Seconds(),
		}
		if err := r.db.Create(&record).Error; err != nil {
			r.log.Warn("Failed to record transmission",
				logger.String("callsign", e.Callsign),
				logger.Uint32("tg", e.TG),
				logger.Error(err))
		}

	case reflector.EventNodeLeft:
		// Forget any transmission the departed node left open
		r.mu.Lock()
		for key := range r.open {
			if key.callsign == e.Callsign {
				delete(r.open, key)
			}
		}
		r.mu.Unlock()
	}
}

// Recent returns the most recent completed transmissions
func (r *Recorder) Recent(limit int) ([]TalkEvent, error) {
	var events []TalkEvent
	err := r.db.Order("start_time DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return events, nil
}

// Close closes the underlying database
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
