package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/domain"
	"github.com/majidkhoshrou/mr-m/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	conversationMu sync.Mutex // Mutex for conversation operations to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		ip TEXT NOT NULL,
		country TEXT NOT NULL,
		device TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		ts INTEGER NOT NULL,
		proxy INTEGER DEFAULT 0,
		latitude REAL,
		longitude REAL,
		path TEXT NOT NULL,
		tab TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visits_ts ON visits(ts);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		client_id TEXT PRIMARY KEY,
		turns_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// InsertVisit records a single page visit.
func (s *SQLiteStore) InsertVisit(ctx context.Context, visit *domain.Visit) error {
	query := `
	INSERT INTO visits (id, ip, country, device, user_agent, ts, proxy, latitude, longitude, path, tab)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lat, lon interface{}
	if visit.Latitude != nil {
		lat = *visit.Latitude
	}
	if visit.Longitude != nil {
		lon = *visit.Longitude
	}

	_, err := s.db.ExecContext(ctx, query,
		visit.ID, visit.IP, visit.Country, visit.Device, visit.UserAgent,
		visit.Timestamp.Unix(), visit.Proxy, lat, lon, visit.Path, visit.Tab,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// ListVisits retrieves visits recorded at or after the given time.
func (s *SQLiteStore) ListVisits(ctx context.Context, since time.Time) ([]*domain.Visit, error) {
	query := `
		SELECT id, ip, country, device, user_agent, ts, proxy, latitude, longitude, path, tab
		FROM visits WHERE ts >= ? ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close visit rows", "error", closeErr)
		}
	}()

	var visits []*domain.Visit
	for rows.Next() {
		var visit domain.Visit
		var ts int64
		var lat, lon sql.NullFloat64

		if err := rows.Scan(
			&visit.ID, &visit.IP, &visit.Country, &visit.Device, &visit.UserAgent,
			&ts, &visit.Proxy, &lat, &lon, &visit.Path, &visit.Tab,
		); err != nil {
			return nil, fmt.Errorf("scan visit row: %w", err)
		}

		visit.Timestamp = time.Unix(ts, 0).UTC()
		if lat.Valid {
			visit.Latitude = &lat.Float64
		}
		if lon.Valid {
			visit.Longitude = &lon.Float64
		}
		visits = append(visits, &visit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}

	return visits, nil
}

// PruneVisits deletes visits older than the cutoff.
func (s *SQLiteStore) PruneVisits(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM visits WHERE ts < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune visits: %w", err)
	}
	return result.RowsAffected()
}

// ReplaceChunks atomically swaps the knowledge base contents.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, chunks []*domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk replace: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			slog.Warn("failed to rollback chunk replace", "error", rollbackErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, source_path, text, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close chunk statement", "error", closeErr)
		}
	}()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.SourcePath, chunk.Text, encodeEmbedding(chunk.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk replace: %w", err)
	}
	return nil
}

// ListChunks retrieves all knowledge chunks with their embeddings.
func (s *SQLiteStore) ListChunks(ctx context.Context) ([]*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_path, text, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chunk rows", "error", closeErr)
		}
	}()

	var chunks []*domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.SourcePath, &chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunk.Embedding = decodeEmbedding(blob)
		chunks = append(chunks, &chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return chunks, nil
}

// CountChunks returns the number of stored knowledge chunks.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// GetConversation retrieves conversation state for a client.
func (s *SQLiteStore) GetConversation(ctx context.Context, clientID string) (*domain.Conversation, error) {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	query := `SELECT client_id, turns_json, created_at, updated_at FROM conversations WHERE client_id = ?`
	row := s.db.QueryRowContext(ctx, query, clientID)

	var conv domain.Conversation
	var turnsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&conv.ClientID, &turnsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &conv.Turns); err != nil {
		return nil, fmt.Errorf("decode conversation turns: %w", err)
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpsertConversation creates or updates conversation state.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	turnsJSON, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("encode conversation turns: %w", err)
	}

	query := `
		INSERT INTO conversations (client_id, turns_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			turns_json = excluded.turns_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		conv.ClientID, string(turnsJSON), conv.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes conversation state for a client.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, clientID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteConversationOnce(ctx, clientID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("DeleteConversation failed with SQLITE_BUSY, retrying",
					"client_id", clientID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("failed to delete conversation for %s after %d attempts: %w", clientID, maxRetries, err)
	}

	return nil
}

func (s *SQLiteStore) deleteConversationOnce(ctx context.Context, clientID string) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// CleanupStaleConversations removes conversations idle longer than TTL.
func (s *SQLiteStore) CleanupStaleConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale conversations: %w", err)
	}
	return result.RowsAffected()
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a vector stored by encodeEmbedding.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
