package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Queryer is the part of *sqlx.DB the table reader needs.
type Queryer interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// OpenDB connects to the operational MySQL database. The DSN should carry
// parseTime=true so DATE columns arrive as time.Time.
func OpenDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect source database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// TableReader streams SELECT * FROM table in the server's row order.
type TableReader struct {
	rows    *sqlx.Rows
	raw     []string
	columns []string
	line    int
}

func OpenTable(ctx context.Context, q Queryer, table string) (*TableReader, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid source table name %q", table)
	}
	rows, err := q.QueryxContext(ctx, "SELECT * FROM `"+table+"`")
	if err != nil {
		return nil, fmt.Errorf("query source table %s: %w", table, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	names := make([]string, len(cols))
	for i := range cols {
		names[i] = normalizeHeader(cols[i])
	}
	return &TableReader{rows: rows, raw: cols, columns: names}, nil
}

func (t *TableReader) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if !t.rows.Next() {
		if err := t.rows.Err(); err != nil {
			return Row{}, fmt.Errorf("iterate source rows: %w", err)
		}
		return Row{}, io.EOF
	}

	m := make(map[string]interface{}, len(t.raw))
	if err := t.rows.MapScan(m); err != nil {
		return Row{}, fmt.Errorf("scan source row: %w", err)
	}
	t.line++

	values := make([]interface{}, len(t.columns))
	for i, col := range t.raw {
		values[i] = cellValue(m[col])
	}
	return NewRow(t.line, t.columns, values), nil
}

func (t *TableReader) Close() error {
	if t.rows == nil {
		return errors.New("table reader not open")
	}
	return t.rows.Close()
}

// cellValue narrows driver values to the types rows carry.
func cellValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if len(x) == 0 {
			return ""
		}
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64, float64, string, time.Time:
		return x
	case float32:
		return float64(x)
	case uint64:
		return int64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	default:
		return fmt.Sprint(x)
	}
}
