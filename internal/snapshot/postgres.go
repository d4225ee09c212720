package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const notifyChannel = "room_snapshots_changed"

// record is the persisted form of a Snapshot.
type record struct {
	ID        string    `gorm:"primaryKey"`
	RoomID    string    `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName sets the table used by GORM.
func (record) TableName() string { return "room_snapshots" }

// BeforeCreate assigns a time-ordered ID when none is set.
func (r *record) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}

	return nil
}

// notification is the payload carried over pg_notify. Deleted rows are
// gone by the time a listener reacts, so the payload carries the full
// snapshot minus content (content would blow the 8000 byte notify limit).
type notification struct {
	Kind      EventKind `json:"kind"`
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PostgresStore persists snapshots in Postgres. Watch is backed by
// LISTEN/NOTIFY, so every connected process observes changes made by any
// other process sharing the database.
type PostgresStore struct {
	db  *gorm.DB
	dsn string
}

// NewPostgresStore connects, migrates the schema, and installs the
// notify trigger.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStorage, err)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorage, err)
	}

	if err := installTrigger(db); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db, dsn: dsn}, nil
}

func installTrigger(db *gorm.DB) error {
	stmts := []string{
		`CREATE OR REPLACE FUNCTION notify_room_snapshots() RETURNS trigger AS $$
		DECLARE
			row room_snapshots;
			kind text;
		BEGIN
			IF TG_OP = 'DELETE' THEN
				row := OLD;
				kind := 'deleted';
			ELSE
				row := NEW;
				kind := 'saved';
			END IF;
			PERFORM pg_notify('` + notifyChannel + `', json_build_object(
				'kind', kind,
				'id', row.id,
				'room_id', row.room_id,
				'name', row.name,
				'created_at', row.created_at
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS room_snapshots_notify ON room_snapshots`,
		`CREATE TRIGGER room_snapshots_notify
			AFTER INSERT OR UPDATE OR DELETE ON room_snapshots
			FOR EACH ROW EXECUTE FUNCTION notify_room_snapshots()`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%w: install trigger: %v", ErrStorage, err)
		}
	}

	return nil
}

// Save persists the snapshot.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	rec := record{
		ID:        snap.ID,
		RoomID:    snap.RoomID,
		Name:      snap.Name,
		Content:   snap.Content,
		CreatedAt: snap.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("%w: save: %v", ErrStorage, err)
	}

	snap.ID = rec.ID
	snap.CreatedAt = rec.CreatedAt

	return nil
}

// Get retrieves one snapshot by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (Snapshot, error) {
	var rec record

	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNotFound
	}

	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: get: %v", ErrStorage, err)
	}

	return rec.snapshot(), nil
}

// List returns all snapshots for a room, newest first.
func (s *PostgresStore) List(ctx context.Context, roomID string) ([]Snapshot, error) {
	var recs []record

	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}

	result := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.snapshot())
	}

	return result, nil
}

// Delete removes a snapshot by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&record{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: delete: %v", ErrStorage, res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Watch streams changes for a room via LISTEN/NOTIFY. Deleted snapshots
// arrive without content.
func (s *PostgresStore) Watch(ctx context.Context, roomID string) (<-chan Event, error) {
	listener := pq.NewListener(s.dsn, 500*time.Millisecond, 10*time.Second, nil)

	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()

		return nil, fmt.Errorf("%w: listen: %v", ErrStorage, err)
	}

	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer func() { _ = listener.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}

				if n == nil {
					// Reconnect marker from the listener; nothing to emit.
					continue
				}

				var note notification
				if err := json.Unmarshal([]byte(n.Extra), &note); err != nil {
					log.Printf("snapshot: bad notify payload: %v", err)

					continue
				}

				if note.RoomID != roomID {
					continue
				}

				ev := Event{Kind: note.Kind, Snapshot: Snapshot{
					ID:        note.ID,
					RoomID:    note.RoomID,
					Name:      note.Name,
					CreatedAt: note.CreatedAt,
				}}

				// The consumer may be gone; cancel must still release the
				// goroutine and the listener.
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r record) snapshot() Snapshot {
	return Snapshot{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Name:      r.Name,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
