package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketplace/api/internal/lifecycle"
)

var _ lifecycle.Repository = (*PostgresStore)(nil)

// ErrConstraint marks writes rejected by a table constraint.
var ErrConstraint = errors.New("constraint violation")

const recordColumns = `id, status, is_active, owner_user_id, owner_admin_id, approved_at, approved_by,
	rejected_at, rejected_by, rejection_reason, admin_comments, status_history, attributes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// historyRow is a status_history element as stored, with the entity's own
// status word.
type historyRow struct {
	Status          string    `json:"status"`
	ChangedAt       time.Time `json:"changed_at"`
	ChangedBy       *int64    `json:"changed_by"`
	RejectionReason *string   `json:"rejection_reason"`
}

func (s *PostgresStore) Insert(ctx context.Context, cfg lifecycle.EntityConfig, record lifecycle.Record) (lifecycle.Record, error) {
	status, err := statusWord(cfg, record.Status)
	if err != nil {
		return lifecycle.Record{}, err
	}
	history, err := encodeHistory(cfg, record.StatusHistory)
	if err != nil {
		return lifecycle.Record{}, err
	}
	attrs, err := encodeAttributes(record.Attributes)
	if err != nil {
		return lifecycle.Record{}, err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (status, is_active, owner_user_id, owner_admin_id, approved_at, approved_by,
			admin_comments, status_history, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $10)
		RETURNING %s
	`, tableName(cfg), recordColumns)
	created, err := scanRecord(cfg, s.db.QueryRowContext(ctx, query,
		status, record.IsActive, record.OwnerUserID, record.OwnerAdminID, record.ApprovedAt, record.ApprovedBy,
		record.AdminComments, history, attrs, createdAt,
	))
	if err != nil {
		return lifecycle.Record{}, wrapErr("insert "+cfg.Table, err)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, cfg lifecycle.EntityConfig, id int64) (lifecycle.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, tableName(cfg))
	record, err := scanRecord(cfg, s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Record{}, lifecycle.ErrNoRecord
	}
	if err != nil {
		return lifecycle.Record{}, wrapErr("get "+cfg.Table, err)
	}
	return record, nil
}

func (s *PostgresStore) UpdateAttributes(ctx context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, changes map[string]any) (lifecycle.Record, bool, error) {
	encoded, err := encodeAttributes(changes)
	if err != nil {
		return lifecycle.Record{}, false, err
	}
	b := &updateBuilder{}
	b.setExpr("attributes = attributes || " + b.arg(encoded) + "::jsonb")
	if err := b.guard(cfg, id, guard); err != nil {
		return lifecycle.Record{}, false, err
	}
	return s.conditionalUpdate(ctx, cfg, b, "update "+cfg.Table)
}

func (s *PostgresStore) ApplyTransition(ctx context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, change lifecycle.StatusChange) (lifecycle.Record, bool, error) {
	to, err := statusWord(cfg, change.To)
	if err != nil {
		return lifecycle.Record{}, false, err
	}

	b := &updateBuilder{}
	b.set("status", to)
	switch change.To {
	case lifecycle.StatusLive:
		b.set("approved_at", change.At)
		b.set("approved_by", change.By)
		b.setExpr("rejected_at = NULL")
		b.setExpr("rejected_by = NULL")
		b.setExpr("rejection_reason = NULL")
	case lifecycle.StatusRejected:
		b.set("rejected_at", change.At)
		b.set("rejected_by", change.By)
		b.set("rejection_reason", change.RejectionReason)
		b.setExpr("approved_at = NULL")
		b.setExpr("approved_by = NULL")
	}
	if change.AdminComments != nil {
		b.set("admin_comments", *change.AdminComments)
	}
	if change.History != nil {
		entry, err := encodeHistory(cfg, []lifecycle.HistoryEntry{*change.History})
		if err != nil {
			return lifecycle.Record{}, false, err
		}
		b.setExpr("status_history = status_history || " + b.arg(entry) + "::jsonb")
	}
	if err := b.guard(cfg, id, guard); err != nil {
		return lifecycle.Record{}, false, err
	}
	return s.conditionalUpdate(ctx, cfg, b, string(change.To)+" "+cfg.Table)
}

func (s *PostgresStore) SetActive(ctx context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, active bool) (lifecycle.Record, bool, error) {
	b := &updateBuilder{}
	b.set("is_active", active)
	if err := b.guard(cfg, id, guard); err != nil {
		return lifecycle.Record{}, false, err
	}
	return s.conditionalUpdate(ctx, cfg, b, "set active "+cfg.Table)
}

func (s *PostgresStore) Delete(ctx context.Context, cfg lifecycle.EntityConfig, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tableName(cfg)), id)
	if err != nil {
		return false, wrapErr("delete "+cfg.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s rows affected: %w", cfg.Table, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, cfg lifecycle.EntityConfig, filter lifecycle.ListFilter) ([]lifecycle.Record, int, error) {
	where, args, err := listConditions(cfg, filter)
	if err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM %s%s ORDER BY id DESC`, recordColumns, tableName(cfg), where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr("list "+cfg.Table, err)
	}
	defer rows.Close()

	items := make([]lifecycle.Record, 0)
	total := 0
	for rows.Next() {
		record, err := scanRecord(cfg, rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", cfg.Table, err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", cfg.Table, err)
	}

	// A page past the end carries no window count.
	if len(items) == 0 && filter.Offset > 0 {
		countArgs := args[:len(args)-1]
		if filter.Limit > 0 {
			countArgs = countArgs[:len(countArgs)-1]
		}
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, tableName(cfg), where), countArgs...).Scan(&total)
		if err != nil {
			return nil, 0, wrapErr("count "+cfg.Table, err)
		}
	}
	return items, total, nil
}

// PublicEntries lists the live, active records of an entity for the public site.
func (s *PostgresStore) PublicEntries(ctx context.Context, cfg lifecycle.EntityConfig) ([]PublicEntry, error) {
	live, err := statusWord(cfg, lifecycle.StatusLive)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, COALESCE(attributes->>$2, ''), updated_at
		FROM %s
		WHERE status = $1 AND is_active
		ORDER BY id
	`, tableName(cfg))
	rows, err := s.db.QueryContext(ctx, query, live, cfg.TitleField)
	if err != nil {
		return nil, wrapErr("public entries "+cfg.Table, err)
	}
	defer rows.Close()

	entries := make([]PublicEntry, 0)
	for rows.Next() {
		var entry PublicEntry
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan public entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) conditionalUpdate(ctx context.Context, cfg lifecycle.EntityConfig, b *updateBuilder, op string) (lifecycle.Record, bool, error) {
	b.setExpr("updated_at = NOW()")
	record, err := scanRecord(cfg, s.db.QueryRowContext(ctx, b.build(tableName(cfg)), b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Record{}, false, nil
	}
	if err != nil {
		return lifecycle.Record{}, false, wrapErr(op, err)
	}
	return record, true, nil
}

// updateBuilder assembles a single guarded UPDATE ... RETURNING statement.
type updateBuilder struct {
	sets  []string
	where []string
	args  []any
}

func (b *updateBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *updateBuilder) set(column string, value any) {
	b.sets = append(b.sets, column+" = "+b.arg(value))
}

func (b *updateBuilder) setExpr(expr string) {
	b.sets = append(b.sets, expr)
}

func (b *updateBuilder) guard(cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard) error {
	b.where = append(b.where, "id = "+b.arg(id))
	if guard.Status != "" {
		word, err := statusWord(cfg, guard.Status)
		if err != nil {
			return err
		}
		b.where = append(b.where, "status = "+b.arg(word))
	}
	if guard.OwnerUserID != nil {
		b.where = append(b.where, "owner_user_id = "+b.arg(*guard.OwnerUserID))
	}
	if guard.RequireActive {
		b.where = append(b.where, "is_active")
	}
	return nil
}

func (b *updateBuilder) build(table string) string {
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		table, strings.Join(b.sets, ", "), strings.Join(b.where, " AND "), recordColumns)
}

func listConditions(cfg lifecycle.EntityConfig, filter lifecycle.ListFilter) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		words := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			word, err := statusWord(cfg, status)
			if err != nil {
				return "", nil, err
			}
			words = append(words, word)
		}
		args = append(args, words)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.OwnerUserID != nil {
		args = append(args, *filter.OwnerUserID)
		conds = append(conds, fmt.Sprintf("owner_user_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func scanRecord(cfg lifecycle.EntityConfig, row rowScanner, extra ...any) (lifecycle.Record, error) {
	var (
		record                 lifecycle.Record
		status                 string
		ownerUser, ownerAdmin  sql.NullInt64
		approvedBy, rejectedBy sql.NullInt64
		approvedAt, rejectedAt sql.NullTime
		reason, comments       sql.NullString
		historyJSON, attrsJSON []byte
	)
	dest := []any{
		&record.ID, &status, &record.IsActive, &ownerUser, &ownerAdmin, &approvedAt, &approvedBy,
		&rejectedAt, &rejectedBy, &reason, &comments, &historyJSON, &attrsJSON, &record.CreatedAt, &record.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return lifecycle.Record{}, err
	}

	canonical, ok := cfg.Vocabulary.Parse(status)
	if !ok {
		return lifecycle.Record{}, fmt.Errorf("%s %d has unknown status %q", cfg.Type, record.ID, status)
	}
	history, err := decodeHistory(cfg, historyJSON)
	if err != nil {
		return lifecycle.Record{}, err
	}
	record.Attributes = map[string]any{}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &record.Attributes); err != nil {
			return lifecycle.Record{}, fmt.Errorf("decode %s attributes: %w", cfg.Type, err)
		}
	}

	record.Entity = cfg.Type
	record.Status = canonical
	record.StatusHistory = history
	record.OwnerUserID = nullInt(ownerUser)
	record.OwnerAdminID = nullInt(ownerAdmin)
	record.ApprovedAt = nullTime(approvedAt)
	record.ApprovedBy = nullInt(approvedBy)
	record.RejectedAt = nullTime(rejectedAt)
	record.RejectedBy = nullInt(rejectedBy)
	record.RejectionReason = nullString(reason)
	record.AdminComments = nullString(comments)
	return record, nil
}

func statusWord(cfg lifecycle.EntityConfig, status lifecycle.Status) (string, error) {
	word, ok := cfg.Vocabulary.Word(status)
	if !ok {
		return "", fmt.Errorf("%s has no %q status", cfg.Type, status)
	}
	return word, nil
}

func encodeHistory(cfg lifecycle.EntityConfig, entries []lifecycle.HistoryEntry) (string, error) {
	rows := make([]historyRow, 0, len(entries))
	for _, entry := range entries {
		word, err := statusWord(cfg, entry.Status)
		if err != nil {
			return "", err
		}
		rows = append(rows, historyRow{
			Status:          word,
			ChangedAt:       entry.ChangedAt,
			ChangedBy:       entry.ChangedBy,
			RejectionReason: entry.RejectionReason,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode status history: %w", err)
	}
	return string(raw), nil
}

func decodeHistory(cfg lifecycle.EntityConfig, raw []byte) ([]lifecycle.HistoryEntry, error) {
	entries := make([]lifecycle.HistoryEntry, 0)
	if len(raw) == 0 {
		return entries, nil
	}
	var rows []historyRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s status history: %w", cfg.Type, err)
	}
	for _, row := range rows {
		status, ok := cfg.Vocabulary.Parse(row.Status)
		if !ok {
			return nil, fmt.Errorf("%s history has unknown status %q", cfg.Type, row.Status)
		}
		entries = append(entries, lifecycle.HistoryEntry{
			Status:          status,
			ChangedAt:       row.ChangedAt,
			ChangedBy:       row.ChangedBy,
			RejectionReason: row.RejectionReason,
		})
	}
	return entries, nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(raw), nil
}

func tableName(cfg lifecycle.EntityConfig) string {
	return pgx.Identifier{cfg.Table}.Sanitize()
}

func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23505", "23514":
			return fmt.Errorf("%s: %w (%s): %w", op, ErrConstraint, pgErr.ConstraintName, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
