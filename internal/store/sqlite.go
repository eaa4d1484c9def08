package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dispatchd/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  content TEXT NOT NULL,
  scheduled_date TEXT NOT NULL,
  scheduled_time TEXT NOT NULL,
  fire_at INTEGER NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','sent','failed')) DEFAULT 'pending',
  recipient TEXT,
  recipient_type TEXT NOT NULL CHECK(recipient_type IN ('email','sms','push','internal')) DEFAULT 'internal',
  priority TEXT NOT NULL CHECK(priority IN ('low','medium','high','urgent')) DEFAULT 'medium',
  retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count BETWEEN 0 AND 3),
  sent_at INTEGER,
  error_message TEXT,
  meta_source TEXT,
  meta_campaign_id TEXT,
  meta_tags TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_status_fire ON messages(status, fire_at);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
CREATE INDEX IF NOT EXISTS idx_messages_priority ON messages(priority, status);
`
	_, err := db.Exec(schema)
	return err
}

// Open opens the SQLite file at path and ensures the schema.
func Open(path string, busyTimeout time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	if busyTimeout > 0 {
		dsn += fmt.Sprintf("&_pragma=busy_timeout(%d)", busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

type Repository interface {
	Create(ctx context.Context, m domain.Message) (domain.Message, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	List(ctx context.Context, f domain.Filter) ([]domain.Message, error)
	Count(ctx context.Context, f domain.Filter) (int, error)
	// FindByStatus returns messages in status whose fire instant lies in
	// [from, to]. A zero bound is open.
	FindByStatus(ctx context.Context, status domain.Status, from, to time.Time) ([]domain.Message, error)
	Update(ctx context.Context, m domain.Message) error
	// UpdateIfStatus writes m only while the stored status equals expect.
	UpdateIfStatus(ctx context.Context, m domain.Message, expect domain.Status) (bool, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const columns = `id,content,scheduled_date,scheduled_time,fire_at,status,recipient,recipient_type,priority,retry_count,sent_at,error_message,meta_source,meta_campaign_id,meta_tags,created_at,updated_at`

func (r *sqliteRepo) Create(ctx context.Context, m domain.Message) (domain.Message, error) {
	if m.ID == "" {
		m.ID = "msg_" + uuid.NewString()
	}
	if m.Status == "" {
		m.Status = domain.StatusPending
	}
	if m.RecipientType == "" {
		m.RecipientType = domain.RecipientInternal
	}
	if m.Priority == "" {
		m.Priority = domain.PriorityMedium
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	tags, err := encodeTags(m.Metadata.Tags)
	if err != nil {
		return domain.Message{}, err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO messages (`+columns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, m.ID, m.Content, m.ScheduledDate, m.ScheduledTime, m.FireAt.UnixMilli(), string(m.Status),
		nullStr(m.Recipient), string(m.RecipientType), string(m.Priority), m.RetryCount, nullTime(m.SentAt),
		nullStr(m.ErrorMessage), nullStr(m.Metadata.Source), nullStr(m.Metadata.CampaignID), tags,
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return m, err
}

func (r *sqliteRepo) List(ctx context.Context, f domain.Filter) ([]domain.Message, error) {
	where, args := filterClause(f)
	q := `SELECT ` + columns + ` FROM messages` + where + ` ORDER BY fire_at ASC, created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	return r.query(ctx, q, args...)
}

func (r *sqliteRepo) Count(ctx context.Context, f domain.Filter) (int, error) {
	where, args := filterClause(f)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&n)
	return n, err
}

func (r *sqliteRepo) FindByStatus(ctx context.Context, status domain.Status, from, to time.Time) ([]domain.Message, error) {
	q := `SELECT ` + columns + ` FROM messages WHERE status=?`
	args := []any{string(status)}
	if !from.IsZero() {
		q += ` AND fire_at >= ?`
		args = append(args, from.UnixMilli())
	}
	if !to.IsZero() {
		q += ` AND fire_at <= ?`
		args = append(args, to.UnixMilli())
	}
	q += ` ORDER BY fire_at ASC`
	return r.query(ctx, q, args...)
}

func (r *sqliteRepo) Update(ctx context.Context, m domain.Message) error {
	ok, err := r.update(ctx, m, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepo) UpdateIfStatus(ctx context.Context, m domain.Message, expect domain.Status) (bool, error) {
	return r.update(ctx, m, expect)
}

func (r *sqliteRepo) update(ctx context.Context, m domain.Message, expect domain.Status) (bool, error) {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	tags, err := encodeTags(m.Metadata.Tags)
	if err != nil {
		return false, err
	}
	q := `
UPDATE messages
SET content=?, scheduled_date=?, scheduled_time=?, fire_at=?, status=?, recipient=?, recipient_type=?,
    priority=?, retry_count=?, sent_at=?, error_message=?, meta_source=?, meta_campaign_id=?, meta_tags=?, updated_at=?
WHERE id=?`
	args := []any{m.Content, m.ScheduledDate, m.ScheduledTime, m.FireAt.UnixMilli(), string(m.Status), nullStr(m.Recipient),
		string(m.RecipientType), string(m.Priority), m.RetryCount, nullTime(m.SentAt), nullStr(m.ErrorMessage),
		nullStr(m.Metadata.Source), nullStr(m.Metadata.CampaignID), tags, m.UpdatedAt.UnixMilli(), m.ID}
	if expect != "" {
		q += ` AND status=?`
		args = append(args, string(expect))
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sqliteRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqliteRepo) query(ctx context.Context, q string, args ...any) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (domain.Message, error) {
	var (
		m                                   domain.Message
		fireAt, createdAt, updatedAt        int64
		sentAt                              sql.NullInt64
		recipient, errMsg, source, campaign sql.NullString
		tags                                sql.NullString
	)
	err := s.Scan(&m.ID, &m.Content, &m.ScheduledDate, &m.ScheduledTime, &fireAt, &m.Status, &recipient,
		&m.RecipientType, &m.Priority, &m.RetryCount, &sentAt, &errMsg, &source, &campaign, &tags,
		&createdAt, &updatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m.FireAt = time.UnixMilli(fireAt)
	m.CreatedAt = time.UnixMilli(createdAt)
	m.UpdatedAt = time.UnixMilli(updatedAt)
	if sentAt.Valid {
		t := time.UnixMilli(sentAt.Int64)
		m.SentAt = &t
	}
	m.Recipient = recipient.String
	m.ErrorMessage = errMsg.String
	m.Metadata.Source = source.String
	m.Metadata.CampaignID = campaign.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Metadata.Tags); err != nil {
			return domain.Message{}, fmt.Errorf("decode tags for %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func filterClause(f domain.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority=?")
		args = append(args, string(f.Priority))
	}
	if f.RecipientType != "" {
		conds = append(conds, "recipient_type=?")
		args = append(args, string(f.RecipientType))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
