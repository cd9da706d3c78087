package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements the ltm.Store interface using PostgreSQL.
// Embeddings are stored as DOUBLE PRECISION[] columns and scored by the caller.
type PostgresStore struct {
	db *sqlx.DB
}

type recordRow struct {
	ID                 string          `db:"id"`
	GameID             string          `db:"game_id"`
	Text               string          `db:"text"`
	EmbeddingRetrieval pq.Float64Array `db:"embedding_retrieval"`
	EmbeddingSemantic  pq.Float64Array `db:"embedding_semantic"`
	SequenceID         int64           `db:"sequence_id"`
	CreatedAt          time.Time       `db:"created_at"`
}

// NewPostgresStore creates a new PostgresStore with the given database connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	store := &PostgresStore{
		db: db,
	}

	log.Debug("Initialized PostgreSQL LTM store adapter")
	return store
}

// Open connects with dsn, applies migrations and returns a ready store.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load postgres migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create postgres migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply postgres migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Store persists a memory record to the PostgreSQL database.
func (p *PostgresStore) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		return "", err
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO memory_records (
			id, game_id, text, embedding_retrieval, embedding_semantic, sequence_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, string(record.GameID), record.Text,
		pq.Float64Array(nonNil(record.EmbeddingRetrieval)),
		pq.Float64Array(nonNil(record.EmbeddingSemantic)),
		record.SequenceID, record.CreatedAt,
	)
	if err != nil {
		log.ErrorContext(ctx, "Failed to insert memory record", "error", err)
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	return record.ID, nil
}

// List fetches the game's records that pass filter, ordered by sequence.
func (p *PostgresStore) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, game_id, text, embedding_retrieval, embedding_semantic, sequence_id, created_at
		FROM memory_records
		WHERE game_id = $1`)
	params := []interface{}{string(gameID)}

	if filter.MaxSequenceID != nil {
		queryBuilder.WriteString(` AND sequence_id <= $2`)
		params = append(params, *filter.MaxSequenceID)
	}
	queryBuilder.WriteString(` ORDER BY sequence_id, id`)

	var rows []recordRow
	if err := p.db.SelectContext(ctx, &rows, queryBuilder.String(), params...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]ltm.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ltm.MemoryRecord{
			ID:                 row.ID,
			GameID:             entity.GameID(row.GameID),
			Text:               row.Text,
			EmbeddingRetrieval: []float64(row.EmbeddingRetrieval),
			EmbeddingSemantic:  []float64(row.EmbeddingSemantic),
			SequenceID:         row.SequenceID,
			CreatedAt:          row.CreatedAt,
		})
	}
	return records, nil
}

// Exists reports whether any record of the game has exactly this text.
func (p *PostgresStore) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM memory_records WHERE game_id = $1 AND text = $2)`,
		string(gameID), text,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

// DeleteByText removes every record of the game with exactly this text.
func (p *PostgresStore) DeleteByText(ctx context.Context, text string) (int, error) {
	return p.deleteWhere(ctx, `text = $2`, text)
}

// DeleteFromSequence removes every record with sequence_id >= seq.
func (p *PostgresStore) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return p.deleteWhere(ctx, `sequence_id >= $2`, seq)
}

// DeleteSequence removes every record with sequence_id == seq.
func (p *PostgresStore) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return p.deleteWhere(ctx, `sequence_id = $2`, seq)
}

// Clear removes all of the game's records.
func (p *PostgresStore) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM memory_records WHERE game_id = $1`, string(gameID)); err != nil {
		return fmt.Errorf("failed to clear game %s: %w", gameID, err)
	}
	return nil
}

func (p *PostgresStore) deleteWhere(ctx context.Context, clause string, arg interface{}) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	result, err := p.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE game_id = $1 AND `+clause,
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

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
