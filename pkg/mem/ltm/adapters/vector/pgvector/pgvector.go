package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
)

var (
	// ErrDimensionMismatch is returned when a stored embedding does not fit the table.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrPgvectorUnavailable is returned when the pgvector client is unavailable
	ErrPgvectorUnavailable = errors.New("pgvector client unavailable")
)

// PgvectorAdapter implements the ltm.VectorCapableStore interface using
// PostgreSQL with the pgvector extension. Candidate selection runs inside
// the database; pgvector keeps float32 components, so each record also
// carries its float64 embeddings for exact rescoring and listing.
type PgvectorAdapter struct {
	db            *pgxpool.Pool
	tableName     string
	dimensionSize int
}

// DB returns the underlying database connection pool (used for testing)
func (a *PgvectorAdapter) DB() *pgxpool.Pool {
	return a.db
}

// PgvectorConfig contains the configuration for a Pgvector adapter
type PgvectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TableName is the name of the table to use
	TableName string

	// DimensionSize is the size of both embeddings
	DimensionSize int
}

// NewPgvectorAdapter creates a new adapter for PostgreSQL with pgvector extension
func NewPgvectorAdapter(ctx context.Context, config PgvectorConfig) (*PgvectorAdapter, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("connection string cannot be empty")
	}

	if config.TableName == "" {
		config.TableName = "memory_vectors"
	}

	if config.DimensionSize <= 0 {
		config.DimensionSize = 1536 // text-embedding-3-small
	}

	db, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrPgvectorUnavailable, err)
	}

	adapter := &PgvectorAdapter{
		db:            db,
		tableName:     pgx.Identifier{config.TableName}.Sanitize(),
		dimensionSize: config.DimensionSize,
	}

	if err := adapter.initializeTable(ctx, config.TableName); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pgvector table: %w", err)
	}

	return adapter, nil
}

// initializeTable creates the extension, table and indices if they don't exist
func (a *PgvectorAdapter) initializeTable(ctx context.Context, rawName string) error {
	var extensionExists bool
	err := a.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extensionExists)
	if err != nil {
		return fmt.Errorf("failed to check for pgvector extension: %w", err)
	}

	if !extensionExists {
		if _, err = a.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create pgvector extension: %w", err)
		}
		log.Info("Created pgvector extension")
	}

	_, err = a.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding_retrieval VECTOR(%d) NOT NULL,
			embedding_semantic VECTOR(%d) NOT NULL,
			sequence_id BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`, a.tableName, a.dimensionSize, a.dimensionSize))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// tables created before exact embeddings were kept lack these columns
	for _, col := range []string{"embedding_retrieval_exact", "embedding_semantic_exact"} {
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s DOUBLE PRECISION[]", a.tableName, col)
		if _, err := a.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	indices := []struct {
		name string
		cols string
	}{
		{name: "game_seq_idx", cols: "(game_id, sequence_id)"},
		{name: "game_text_idx", cols: "(game_id, text)"},
	}
	for _, idx := range indices {
		indexName := pgx.Identifier{rawName + "_" + idx.name}.Sanitize()
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s %s", indexName, a.tableName, idx.cols)
		if _, err := a.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

// Close closes the database connection pool
func (a *PgvectorAdapter) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// SupportsVectorSearch implements ltm.VectorCapableStore.
func (a *PgvectorAdapter) SupportsVectorSearch() bool {
	return true
}

// Store persists a memory record with both embeddings.
func (a *PgvectorAdapter) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		return "", err
	}

	if len(record.EmbeddingRetrieval) != a.dimensionSize || len(record.EmbeddingSemantic) != a.dimensionSize {
		return "", fmt.Errorf("%w: got %d/%d, expected %d", ErrDimensionMismatch,
			len(record.EmbeddingRetrieval), len(record.EmbeddingSemantic), a.dimensionSize)
	}

	_, err = a.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, game_id, text, embedding_retrieval, embedding_semantic, sequence_id, created_at,
			embedding_retrieval_exact, embedding_semantic_exact
		) VALUES ($1, $2, $3, $4::vector, $5::vector, $6, $7, $8, $9)
	`, a.tableName),
		record.ID, string(record.GameID), record.Text,
		embedToString(record.EmbeddingRetrieval), embedToString(record.EmbeddingSemantic),
		record.SequenceID, record.CreatedAt,
		record.EmbeddingRetrieval, record.EmbeddingSemantic,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	log.DebugContext(ctx, "Stored record in pgvector",
		"record_id", record.ID,
		"sequence_id", record.SequenceID,
	)
	return record.ID, nil
}

// List fetches the game's records that pass filter, ordered by sequence.
func (a *PgvectorAdapter) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE game_id = $1 AND ($2::bigint IS NULL OR sequence_id <= $2)
		ORDER BY sequence_id, id
	`, recordColumns, a.tableName), string(gameID), filter.MaxSequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return scanRecords(rows)
}

const recordColumns = `id, game_id, text, embedding_retrieval::text, embedding_semantic::text,
	embedding_retrieval_exact, embedding_semantic_exact, sequence_id, created_at`

// scanRecords reads rows selected with recordColumns and closes them.
func scanRecords(rows pgx.Rows) ([]ltm.MemoryRecord, error) {
	defer rows.Close()

	records := []ltm.MemoryRecord{}
	for rows.Next() {
		var (
			record                        ltm.MemoryRecord
			game                          string
			retrieval, semantic           string
			exactRetrieval, exactSemantic []float64
			createdAt                     time.Time
		)
		if err := rows.Scan(&record.ID, &game, &record.Text, &retrieval, &semantic,
			&exactRetrieval, &exactSemantic, &record.SequenceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record.GameID = entity.GameID(game)
		record.CreatedAt = createdAt

		var err error
		if record.EmbeddingRetrieval, err = exactOr(exactRetrieval, retrieval); err != nil {
			return nil, err
		}
		if record.EmbeddingSemantic, err = exactOr(exactSemantic, semantic); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// exactOr returns the float64 embedding, or the parsed vector column for
// rows stored without one.
func exactOr(exact []float64, vector string) ([]float64, error) {
	if exact != nil {
		return exact, nil
	}
	return stringToEmbed(vector)
}

// Search selects candidates inside PostgreSQL and rescores them in Go.
// Each of the four cosine similarities falls back to 0 when pgvector yields
// NaN (zero vectors) or the query vector has the wrong dimension.
func (a *PgvectorAdapter) Search(ctx context.Context, query ltm.VectorQuery) ([]ltm.ScoredText, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		return []ltm.ScoredText{}, nil
	}

	sim := func(col, param string) string {
		return fmt.Sprintf("COALESCE(NULLIF(1 - (%s <=> %s::vector), 'NaN'::float8), 0)", col, param)
	}
	sqlQuery := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE game_id = $1 AND ($4::bigint IS NULL OR sequence_id <= $4)
			AND GREATEST(%s, %s, %s, %s) >= $5
	`,
		recordColumns, a.tableName,
		sim("embedding_retrieval", "$2"), sim("embedding_semantic", "$2"),
		sim("embedding_semantic", "$3"), sim("embedding_retrieval", "$3"),
	)

	rows, err := a.db.Query(ctx, sqlQuery,
		string(gameID),
		a.queryVector(query.Retrieval),
		a.queryVector(query.Semantic),
		query.MaxSequenceID,
		ltm.CandidateCutoff(query.Threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	candidates, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	results := ltm.Rank(candidates, query)
	log.DebugContext(ctx, "pgvector search complete", "candidates", len(candidates), "results", len(results))
	return results, nil
}

// Exists reports whether any record of the game has exactly this text.
func (a *PgvectorAdapter) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = a.db.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE game_id = $1 AND text = $2)", a.tableName),
		string(gameID), text,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

// DeleteByText removes every record of the game with exactly this text.
func (a *PgvectorAdapter) DeleteByText(ctx context.Context, text string) (int, error) {
	return a.deleteWhere(ctx, "text = $2", text)
}

// DeleteFromSequence removes every record with sequence_id >= seq.
func (a *PgvectorAdapter) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return a.deleteWhere(ctx, "sequence_id >= $2", seq)
}

// DeleteSequence removes every record with sequence_id == seq.
func (a *PgvectorAdapter) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return a.deleteWhere(ctx, "sequence_id = $2", seq)
}

// Clear removes all of the game's records.
func (a *PgvectorAdapter) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := a.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE game_id = $1", a.tableName), string(gameID)); err != nil {
		return fmt.Errorf("failed to clear game %s: %w", gameID, err)
	}
	return nil
}

func (a *PgvectorAdapter) deleteWhere(ctx context.Context, clause string, arg interface{}) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := a.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE game_id = $1 AND %s", a.tableName, clause),
		string(gameID), arg,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// queryVector renders a query embedding, or nil when it cannot be compared
// against the table's column.
func (a *PgvectorAdapter) queryVector(v []float64) *string {
	if len(v) != a.dimensionSize {
		return nil
	}
	s := embedToString(v)
	return &s
}

// embedToString converts an embedding to pgvector's text form
func embedToString(embedding []float64) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// stringToEmbed parses pgvector's text form
func stringToEmbed(embeddingStr string) ([]float64, error) {
	embeddingStr = strings.TrimSpace(embeddingStr)
	embeddingStr = strings.TrimPrefix(embeddingStr, "[")
	embeddingStr = strings.TrimSuffix(embeddingStr, "]")
	if embeddingStr == "" {
		return []float64{}, nil
	}

	elements := strings.Split(embeddingStr, ",")
	embedding := make([]float64, len(elements))
	for i, element := range elements {
		val, err := strconv.ParseFloat(strings.TrimSpace(element), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding element %q: %w", element, err)
		}
		embedding[i] = val
	}
	return embedding, nil
}
