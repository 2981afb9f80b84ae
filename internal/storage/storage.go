// Package storage persists server configurations, the A2A event log and the
// last known registry of each server in a SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/eventlog"
)

// DBFile is the database file name inside the data directory.
const DBFile = "toolbridge.db"

var schema = []string{
	serverTable("mcp_servers"),
	serverTable("a2a_servers"),
	`CREATE TABLE IF NOT EXISTS a2a_events (
		user_id TEXT NOT NULL,
		event_key TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		agent_key TEXT NOT NULL,
		ts INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, event_key)
	)`,
	`CREATE INDEX IF NOT EXISTS a2a_events_chat ON a2a_events (user_id, chat_id, ts)`,
	`CREATE TABLE IF NOT EXISTS registry_snapshots (
		server_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tools TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_cards (
		server_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		card TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

func serverTable(name string) string {
	return `CREATE TABLE IF NOT EXISTS ` + name + ` (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		headers TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_connection_test INTEGER NOT NULL DEFAULT 0,
		last_connection_status TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		tool_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`
}

// Storage handles SQLite persistence.
type Storage struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// New creates the data directory and opens the database inside it.
func New(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, DBFile))
}

// Open opens the database at dbPath and creates missing tables.
func Open(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Storage{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "storage"),
	}, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func tableFor(kind config.Kind) (string, error) {
	switch kind {
	case config.KindMCP:
		return "mcp_servers", nil
	case config.KindA2A:
		return "a2a_servers", nil
	}
	return "", apperr.New(apperr.KindBadRequest, "storage", fmt.Sprintf("unknown server kind %q", kind))
}

const serverColumns = `id, user_id, name, endpoint, description, headers, is_active,
	last_connection_test, last_connection_status, last_error, tool_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner, kind config.Kind) (config.ServerConfig, error) {
	var (
		srv      config.ServerConfig
		headers  string
		lastTest int64
	)
	err := row.Scan(&srv.ID, &srv.UserID, &srv.Name, &srv.Endpoint, &srv.Description, &headers,
		&srv.IsActive, &lastTest, &srv.LastConnectionStatus, &srv.LastError, &srv.ToolCount,
		&srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return srv, err
	}
	if err := json.Unmarshal([]byte(headers), &srv.Headers); err != nil {
		return srv, fmt.Errorf("decode headers of %s: %w", srv.ID, err)
	}
	if len(srv.Headers) == 0 {
		srv.Headers = nil
	}
	if lastTest > 0 {
		srv.LastConnectionTest = time.UnixMilli(lastTest).UTC()
	}
	srv.Kind = kind
	return srv, nil
}

// CreateServer validates and stores a new server for its user. The ID is
// generated and the server starts active.
func (s *Storage) CreateServer(ctx context.Context, kind config.Kind, srv config.ServerConfig) (config.ServerConfig, error) {
	table, err := tableFor(kind)
	if err != nil {
		return srv, err
	}
	if srv.UserID == "" {
		return srv, apperr.New(apperr.KindUnauthorized, "create server", "user id is required")
	}
	if err := srv.Validate(); err != nil {
		return srv, err
	}

	headers, err := json.Marshal(srv.Headers)
	if err != nil {
		return srv, fmt.Errorf("encode headers: %w", err)
	}
	if srv.Headers == nil {
		headers = []byte("{}")
	}

	now := s.now()
	srv.ID = uuid.NewString()
	srv.Kind = kind
	srv.IsActive = true
	srv.CreatedAt = now
	srv.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, user_id, name, endpoint, description, headers, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		srv.ID, srv.UserID, srv.Name, srv.Endpoint, srv.Description, string(headers), now, now,
	)
	if err != nil {
		return srv, fmt.Errorf("insert server: %w", err)
	}
	return srv, nil
}

// GetServer returns one server of a user, or nil when it does not exist.
func (s *Storage) GetServer(ctx context.Context, userID string, kind config.Kind, id string) (*config.ServerConfig, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID)
	srv, err := scanServer(row, kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return &srv, nil
}

// ListServers returns every server of a user in creation order.
func (s *Storage) ListServers(ctx context.Context, userID string, kind config.Kind) ([]config.ServerConfig, error) {
	return s.listServers(ctx, userID, kind, false)
}

// ActiveServers returns the active servers of a user in creation order.
func (s *Storage) ActiveServers(ctx context.Context, userID string, kind config.Kind) ([]config.ServerConfig, error) {
	return s.listServers(ctx, userID, kind, true)
}

func (s *Storage) listServers(ctx context.Context, userID string, kind config.Kind, activeOnly bool) ([]config.ServerConfig, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + serverColumns + ` FROM ` + table + ` WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	servers := []config.ServerConfig{}
	for rows.Next() {
		srv, err := scanServer(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// DeleteServer removes a server and its snapshots. It reports whether the
// server existed.
func (s *Storage) DeleteServer(ctx context.Context, userID string, kind config.Kind, id string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete server: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_snapshots WHERE server_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_cards WHERE server_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete agent card: %w", err)
	}
	return true, tx.Commit()
}

// SetActive enables or disables a server. It reports whether the server
// exists.
func (s *Storage) SetActive(ctx context.Context, userID string, kind config.Kind, id string, active bool) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET is_active = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		active, s.now(), id, userID)
	if err != nil {
		return false, fmt.Errorf("update server: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConnectionResult is the outcome of one connection test.
type ConnectionResult struct {
	Status    string
	LastError string
	ToolCount int
	TestedAt  time.Time
}

// RecordConnection stores the outcome of a connection test on a server.
// The tool count is only updated on success.
func (s *Storage) RecordConnection(ctx context.Context, kind config.Kind, id string, r ConnectionResult) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if r.TestedAt.IsZero() {
		r.TestedAt = s.now()
	}

	query := `UPDATE ` + table + ` SET last_connection_test = ?, last_connection_status = ?, last_error = ?, updated_at = ?`
	args := []any{r.TestedAt.UnixMilli(), r.Status, r.LastError, s.now()}
	if r.Status == config.ConnectionConnected {
		query += `, tool_count = ?`
		args = append(args, r.ToolCount)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record connection: %w", err)
	}
	return nil
}

// AppendEvent stores an event log entry. Appending an entry whose key is
// already stored for the user is a no-op; the return value reports whether
// a row was written.
func (s *Storage) AppendEvent(ctx context.Context, userID, chatID string, e *eventlog.Entry) (bool, error) {
	if e == nil {
		return false, nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.ChatID = chatID

	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}
	agent := e.AgentKey
	if agent == "" {
		agent = e.AgentToolID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO a2a_events (user_id, event_key, chat_id, agent_key, ts, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, eventlog.Key(e), chatID, agent, e.Timestamp.UnixMilli(), string(payload), s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListEvents returns the stored entries of a chat, newest first. An empty
// chatID lists every entry of the user.
func (s *Storage) ListEvents(ctx context.Context, userID, chatID string) ([]*eventlog.Entry, error) {
	query := `SELECT event_key, payload FROM a2a_events WHERE user_id = ?`
	args := []any{userID}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY ts DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var entries []*eventlog.Entry
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e eventlog.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			s.logger.Warn("skipping undecodable event", "user_id", userID, "event_key", key, "error", err)
			continue
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Snapshot is the last successfully discovered tool list of a server.
type Snapshot struct {
	ServerID  string          `json:"serverId"`
	Tools     json.RawMessage `json:"tools"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SaveSnapshot replaces the registry snapshot of a server with tools,
// encoded as JSON.
func (s *Storage) SaveSnapshot(ctx context.Context, userID, serverID string, tools any) error {
	data, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO registry_snapshots (server_id, user_id, tools, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET tools = excluded.tools, updated_at = excluded.updated_at`,
		serverID, userID, string(data), s.now(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the registry snapshot of a server, or nil when none
// was saved.
func (s *Storage) LoadSnapshot(ctx context.Context, userID, serverID string) (*Snapshot, error) {
	var (
		snap  Snapshot
		tools string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id, tools, updated_at FROM registry_snapshots WHERE server_id = ? AND user_id = ?`,
		serverID, userID,
	).Scan(&snap.ServerID, &tools, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Tools = json.RawMessage(tools)
	return &snap, nil
}

// SaveAgentCard stores the last card fetched from an agent.
func (s *Storage) SaveAgentCard(ctx context.Context, userID, serverID string, card any) error {
	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode agent card: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_cards (server_id, user_id, card, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET card = excluded.card, updated_at = excluded.updated_at`,
		serverID, userID, string(data), s.now(),
	)
	if err != nil {
		return fmt.Errorf("save agent card: %w", err)
	}
	return nil
}

// LoadAgentCard returns the stored card of an agent, or nil.
func (s *Storage) LoadAgentCard(ctx context.Context, userID, serverID string) (json.RawMessage, error) {
	var card string
	err := s.db.QueryRowContext(ctx,
		`SELECT card FROM agent_cards WHERE server_id = ? AND user_id = ?`, serverID, userID,
	).Scan(&card)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent card: %w", err)
	}
	return json.RawMessage(card), nil
}
