package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// SQLConfig describes one table exposed as a data source.
type SQLConfig struct {
	Table string
	// Select lists the columns returned by Find.
	Select []string
	// Fields maps logical filter keys to columns. Unmapped keys are ignored.
	Fields map[string]string
	// Where holds fixed column predicates applied to every query.
	Where map[string]any
	// OrderBy is the ORDER BY clause for Find, e.g. "created_at DESC".
	OrderBy string
}

// SQLTable is a read-only table adapter over sqlx.
type SQLTable struct {
	db  *sqlx.DB
	cfg SQLConfig
	log infralogger.Logger
}

var _ domain.DataSource = (*SQLTable)(nil)

// NewSQLTable creates a table adapter. Placeholders are rebound for the driver of db.
func NewSQLTable(db *sqlx.DB, cfg SQLConfig, log infralogger.Logger) *SQLTable {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &SQLTable{db: db, cfg: cfg, log: log}
}

// Count returns the number of rows matching filter.
func (t *SQLTable) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	where, args := t.where(filter)
	query := t.db.Rebind("SELECT COUNT(*) FROM " + t.cfg.Table + where)

	if err := EnsureReadOnly(query); err != nil {
		return 0, err
	}

	var n int64
	if err := t.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", domain.ErrSourceUnavailable, t.cfg.Table, err)
	}
	return n, nil
}

// Find returns one page of rows.
func (t *SQLTable) Find(ctx context.Context, q domain.Query) ([]domain.Row, error) {
	where, args := t.where(q.Filter)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(t.selectList())
	b.WriteString(" FROM ")
	b.WriteString(t.cfg.Table)
	b.WriteString(where)
	if t.cfg.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(t.cfg.OrderBy)
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, q.Limit, q.Offset)

	query := t.db.Rebind(b.String())
	if err := EnsureReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := t.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %w", domain.ErrSourceUnavailable, t.cfg.Table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.Row, 0, q.Limit)
	for rows.Next() {
		m := make(map[string]any, len(t.cfg.Select))
		if scanErr := rows.MapScan(m); scanErr != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.cfg.Table, scanErr)
		}
		out = append(out, normalize(m))
	}
	if iterErr := rows.Err(); iterErr != nil {
		return nil, fmt.Errorf("%w: iterate %s: %w", domain.ErrSourceUnavailable, t.cfg.Table, iterErr)
	}

	return out, nil
}

func (t *SQLTable) selectList() string {
	if len(t.cfg.Select) == 0 {
		return "*"
	}
	return strings.Join(t.cfg.Select, ", ")
}

func (t *SQLTable) where(filter domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	for _, col := range sortedKeys(t.cfg.Where) {
		conds, args = appendCondition(conds, args, col, t.cfg.Where[col])
	}

	for _, key := range sortedKeys(filter) {
		col, ok := t.cfg.Fields[key]
		if !ok {
			t.log.Debug("Ignoring unmapped filter field",
				infralogger.String("table", t.cfg.Table),
				infralogger.String("field", key),
			)
			continue
		}
		if _, fixed := t.cfg.Where[col]; fixed {
			continue
		}
		conds, args = appendCondition(conds, args, col, filter[key])
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func appendCondition(conds []string, args []any, col string, value any) ([]string, []any) {
	switch v := value.(type) {
	case domain.Range:
		if v.Gte != nil {
			conds = append(conds, col+" >= ?")
			args = append(args, *v.Gte)
		}
		if v.Lte != nil {
			conds = append(conds, col+" <= ?")
			args = append(args, *v.Lte)
		}
	case domain.In:
		if len(v.Values) == 0 {
			return append(conds, "1 = 0"), args
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(v.Values)), ", ")
		conds = append(conds, col+" IN ("+placeholders+")")
		args = append(args, v.Values...)
	case nil:
		conds = append(conds, col+" IS NULL")
	default:
		conds = append(conds, col+" = ?")
		args = append(args, v)
	}
	return conds, args
}

func normalize(m map[string]any) domain.Row {
	row := make(domain.Row, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
			continue
		}
		row[k] = v
	}
	return row
}

