package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flitsinc/datalab/internal/idgen"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type Session struct {
	ID               string    `json:"id"`
	Context          string    `json:"context"`
	ProviderKey      string    `json:"provider_key,omitempty"`
	ModelKey         string    `json:"model_key,omitempty"`
	Plan             string    `json:"plan,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	FileReadingError bool      `json:"file_reading_error"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Unit is one generated artifact: a notebook cell or a presentation slide.
// AgentKind selects the artifact family; Index is contiguous from 1 within
// (session, agent_kind).
type Unit struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	AgentKind string         `json:"agent_kind"`
	Index     int            `json:"index"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type File struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	FileID    string    `json:"file_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureSession returns the session record, creating a fresh one in the
// default context if none exists yet.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (id, context, created_at, updated_at) VALUES (?, 'default', ?, ?)`,
		sessionID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return Session{ID: sessionID, Context: "default", CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, context, provider_key, model_key, plan, last_error, file_reading_error, created_at, updated_at FROM sessions WHERE id = ?`, sessionID)
	var session Session
	var provider, model, plan, lastErr sql.NullString
	var fileReadErr int
	var createdAtStr, updatedAtStr string
	err := row.Scan(&session.ID, &session.Context, &provider, &model, &plan, &lastErr, &fileReadErr, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	session.ProviderKey = provider.String
	session.ModelKey = model.String
	session.Plan = plan.String
	session.LastError = lastErr.String
	session.FileReadingError = fileReadErr != 0
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	session.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return session, nil
}

func (s *Store) SetSessionContext(ctx context.Context, sessionID, state string) error {
	return s.updateSession(ctx, sessionID, `context = ?`, state)
}

func (s *Store) SetSessionModel(ctx context.Context, sessionID, providerKey, modelKey string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET provider_key = ?, model_key = ?, updated_at = ? WHERE id = ?`,
		nullString(providerKey), nullString(modelKey), now, sessionID)
	if err != nil {
		return fmt.Errorf("set session model: %w", err)
	}
	return requireRow(res, "session "+sessionID)
}

func (s *Store) SetSessionPlan(ctx context.Context, sessionID, plan string) error {
	return s.updateSession(ctx, sessionID, `plan = ?`, plan)
}

func (s *Store) SetSessionLastError(ctx context.Context, sessionID, lastError string) error {
	return s.updateSession(ctx, sessionID, `last_error = ?`, lastError)
}

func (s *Store) SetFileReadingError(ctx context.Context, sessionID string, flag bool) error {
	v := 0
	if flag {
		v = 1
	}
	return s.updateSession(ctx, sessionID, `file_reading_error = ?`, v)
}

func (s *Store) updateSession(ctx context.Context, sessionID, setClause string, value any) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET `+setClause+`, updated_at = ? WHERE id = ?`, value, now, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "session "+sessionID)
}

// DeleteSession removes the session; messages, units and files cascade.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res, "session "+sessionID)
}

func (s *Store) InsertMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) (Message, error) {
	id := idgen.New()
	now := time.Now().UTC()
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return Message{}, fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO messages (id, session_id, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, role, content, metaJSON, now.Format(time.RFC3339Nano))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return Message{ID: id, SessionID: sessionID, Role: role, Content: content, Meta: meta, CreatedAt: now}, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, role, content, meta, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var metaStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metaStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Meta = decodeJSONMap(metaStr.String)
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *Store) InsertUnit(ctx context.Context, unit Unit) (Unit, error) {
	if unit.ID == "" {
		unit.ID = idgen.New()
	}
	now := time.Now().UTC()
	unit.CreatedAt = now
	dataJSON, err := encodeJSON(unit.Data)
	if err != nil {
		return Unit{}, fmt.Errorf("encode unit data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO units (id, session_id, agent_kind, unit_index, kind, content, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID, unit.SessionID, unit.AgentKind, unit.Index, unit.Kind, unit.Content, dataJSON, now.Format(time.RFC3339Nano))
	if err != nil {
		return Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	return unit, nil
}

func (s *Store) ListUnits(ctx context.Context, sessionID, agentKind string) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, agent_kind, unit_index, kind, content, data, created_at FROM units WHERE session_id = ? AND agent_kind = ? ORDER BY unit_index ASC`, sessionID, agentKind)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		var unit Unit
		var dataStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&unit.ID, &unit.SessionID, &unit.AgentKind, &unit.Index, &unit.Kind, &unit.Content, &dataStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		unit.Data = decodeJSONMap(dataStr.String)
		unit.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteUnits(ctx context.Context, sessionID, agentKind string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE session_id = ? AND agent_kind = ?`, sessionID, agentKind); err != nil {
		return fmt.Errorf("delete units: %w", err)
	}
	return nil
}

func (s *Store) SetUnitData(ctx context.Context, unitID string, data map[string]any) error {
	dataJSON, err := encodeJSON(data)
	if err != nil {
		return fmt.Errorf("encode unit data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE units SET data = ? WHERE id = ?`, dataJSON, unitID)
	if err != nil {
		return fmt.Errorf("set unit data: %w", err)
	}
	return requireRow(res, "unit "+unitID)
}

func (s *Store) AddFile(ctx context.Context, sessionID, name, fileID string) (File, error) {
	id := idgen.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO session_files (id, session_id, name, file_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, name, nullString(fileID), now.Format(time.RFC3339Nano))
	if err != nil {
		return File{}, fmt.Errorf("insert session file: %w", err)
	}
	return File{ID: id, SessionID: sessionID, Name: name, FileID: fileID, CreatedAt: now}, nil
}

func (s *Store) ListFiles(ctx context.Context, sessionID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, name, file_id, created_at FROM session_files WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var file File
		var fileIDStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&file.ID, &file.SessionID, &file.Name, &fileIDStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan session file: %w", err)
		}
		file.FileID = fileIDStr.String
		file.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session files: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
