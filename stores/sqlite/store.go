package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"clipsync/core"
	"clipsync/stores/feed"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	hub *feed.Hub
}

// NewStore opens (or creates) the SQLite database behind the collection.
func NewStore(dataSourceName string) *sqliteStore {
	store, err := Open(dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite collection: %v", err)
	}
	return store
}

// Open is NewStore without the fatal exit.
func Open(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	entriesTableStmt := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);`
	if _, err = db.Exec(entriesTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}

	indexStmt := `CREATE INDEX IF NOT EXISTS entries_timestamp ON entries (timestamp DESC, id DESC);`
	if _, err = db.Exec(indexStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries index: %w", err)
	}

	s := &sqliteStore{db: db}
	s.hub = feed.NewHub(s.Query)
	return s, nil
}

func (s *sqliteStore) Create(ctx context.Context, entry core.Entry) (string, error) {
	ref := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (id, type, data, timestamp) VALUES (?, ?, ?, ?)",
		ref, string(entry.Type), entry.Data, entry.Timestamp)
	if err != nil {
		log.WithError(err).Error("Failed to create entry")
		return "", err
	}
	log.Debug("Entry created")
	s.hub.Notify()
	return ref, nil
}

func (s *sqliteStore) Overwrite(ctx context.Context, ref string, entry core.Entry) error {
	if ref == "" {
		return fmt.Errorf("overwrite: %w: empty ref", core.ErrInvalidKey)
	}
	log := logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (id, type, data, timestamp) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET type = excluded.type, data = excluded.data, timestamp = excluded.timestamp",
		ref, string(entry.Type), entry.Data, entry.Timestamp)
	if err != nil {
		log.WithError(err).Error("Failed to overwrite entry")
		return err
	}
	log.Debug("Entry overwritten")
	s.hub.Notify()
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, ref string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", ref)
	if err != nil {
		logrus.WithField("ref", ref).WithError(err).Error("Failed to delete entry")
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		s.hub.Notify()
	}
	return nil
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]core.Doc, error) {
	return s.query(ctx, "SELECT id, type, data, timestamp FROM entries")
}

func (s *sqliteStore) Query(ctx context.Context, limit int) ([]core.Doc, error) {
	return s.query(ctx, "SELECT id, type, data, timestamp FROM entries ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
}

func (s *sqliteStore) query(ctx context.Context, stmt string, args ...any) ([]core.Doc, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close entry rows")
		}
	}()

	docs := make([]core.Doc, 0)
	for rows.Next() {
		var doc core.Doc
		var entryType string
		if err := rows.Scan(&doc.Ref, &entryType, &doc.Entry.Data, &doc.Entry.Timestamp); err != nil {
			return nil, err
		}
		doc.Entry.Type = core.EntryType(entryType)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Watch(ctx context.Context, limit int, fn core.FeedFunc) (func(), error) {
	return s.hub.Watch(ctx, limit, fn)
}

func (s *sqliteStore) Close() error {
	s.hub.Close()
	return s.db.Close()
}
