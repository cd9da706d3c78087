package sqlite

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements the ltm.Store interface using a SQLite database.
// Embeddings are kept as JSON arrays; similarity is computed by the caller.
type SQLiteStore struct {
	db *sqlx.DB
}

// recordRow mirrors the memory_records table.
type recordRow struct {
	ID                 string    `db:"id"`
	GameID             string    `db:"game_id"`
	Text               string    `db:"text"`
	EmbeddingRetrieval string    `db:"embedding_retrieval"`
	EmbeddingSemantic  string    `db:"embedding_semantic"`
	SequenceID         int64     `db:"sequence_id"`
	CreatedAt          time.Time `db:"created_at"`
}

// NewSQLiteStore creates a new SQLiteStore with the given database connection.
// The schema must already exist; see Migrate.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{
		db: db,
	}
}

// Open connects to the database file at path, applies migrations and
// returns a ready store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	// sqlite serializes writers
	db.SetMaxOpenConns(1)
	log.DebugContext(ctx, "Opened SQLite LTM store", "path", path)
	return NewSQLiteStore(db), nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load sqlite migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrator: %w", err)
	}
	// migrator.Close would close db as well
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply sqlite migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Store persists a memory record to the SQLite database.
func (s *SQLiteStore) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		return "", err
	}

	retrieval, err := json.Marshal(nonNil(record.EmbeddingRetrieval))
	if err != nil {
		return "", fmt.Errorf("failed to marshal retrieval embedding: %w", err)
	}
	semantic, err := json.Marshal(nonNil(record.EmbeddingSemantic))
	if err != nil {
		return "", fmt.Errorf("failed to marshal semantic embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_records (
			id, game_id, text, embedding_retrieval, embedding_semantic, sequence_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, string(record.GameID), record.Text, string(retrieval), string(semantic),
		record.SequenceID, record.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	return record.ID, nil
}

// List fetches the game's records that pass filter, ordered by sequence.
func (s *SQLiteStore) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, game_id, text, embedding_retrieval, embedding_semantic, sequence_id, created_at
		FROM memory_records
		WHERE game_id = ?`)
	params := []interface{}{string(gameID)}

	if filter.MaxSequenceID != nil {
		queryBuilder.WriteString(` AND sequence_id <= ?`)
		params = append(params, *filter.MaxSequenceID)
	}
	queryBuilder.WriteString(` ORDER BY sequence_id, id`)

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, queryBuilder.String(), params...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]ltm.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Exists reports whether any record of the game has exactly this text.
func (s *SQLiteStore) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM memory_records WHERE game_id = ? AND text = ?)`,
		string(gameID), text,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

// DeleteByText removes every record of the game with exactly this text.
func (s *SQLiteStore) DeleteByText(ctx context.Context, text string) (int, error) {
	return s.deleteWhere(ctx, `text = ?`, text)
}

// DeleteFromSequence removes every record with sequence_id >= seq.
func (s *SQLiteStore) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return s.deleteWhere(ctx, `sequence_id >= ?`, seq)
}

// DeleteSequence removes every record with sequence_id == seq.
func (s *SQLiteStore) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return s.deleteWhere(ctx, `sequence_id = ?`, seq)
}

// Clear removes all of the game's records.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE game_id = ?`, string(gameID)); err != nil {
		return fmt.Errorf("failed to clear game %s: %w", gameID, err)
	}
	return nil
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, clause string, arg interface{}) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE game_id = ? AND `+clause,
		string(gameID), arg,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return int(affected), nil
}

func (r recordRow) toRecord() (ltm.MemoryRecord, error) {
	record := ltm.MemoryRecord{
		ID:         r.ID,
		GameID:     entity.GameID(r.GameID),
		Text:       r.Text,
		SequenceID: r.SequenceID,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.EmbeddingRetrieval), &record.EmbeddingRetrieval); err != nil {
		return record, fmt.Errorf("failed to unmarshal retrieval embedding of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.EmbeddingSemantic), &record.EmbeddingSemantic); err != nil {
		return record, fmt.Errorf("failed to unmarshal semantic embedding of %s: %w", r.ID, err)
	}
	return record, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
