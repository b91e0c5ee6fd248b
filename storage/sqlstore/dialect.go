package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Dialect selects placeholder style, DDL and driver error mapping.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgres
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "pgx":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "mysql"
}

// rebind rewrites '?' placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// isUniqueViolation recognises duplicate-key errors from every supported driver.
func isUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // Error 1062: Duplicate entry
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}

func (d Dialect) createOutboxTable() string {
	if d == DialectPostgres {
		return `
		CREATE TABLE IF NOT EXISTS outbox_records (
			event_id       UUID         PRIMARY KEY,
			correlation_id VARCHAR(255) NOT NULL,
			event_type     VARCHAR(255) NOT NULL,
			payload        JSONB        NOT NULL,
			headers        JSONB        NULL,
			occurred_at    TIMESTAMPTZ  NOT NULL,
			published      BOOLEAN      NOT NULL DEFAULT FALSE,
			published_at   TIMESTAMPTZ  NULL
		)`
	}
	return `
		CREATE TABLE IF NOT EXISTS outbox_records (
			event_id       CHAR(36)     NOT NULL PRIMARY KEY,
			correlation_id VARCHAR(255) NOT NULL,
			event_type     VARCHAR(255) NOT NULL,
			payload        JSON         NOT NULL,
			headers        JSON         NULL,
			occurred_at    TIMESTAMP(6) NOT NULL,
			published      BOOLEAN      NOT NULL DEFAULT FALSE,
			published_at   TIMESTAMP(6) NULL,
			INDEX idx_published_occurred (published, occurred_at),
			INDEX idx_correlation (correlation_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
}

func (d Dialect) createInboxTable() string {
	if d == DialectPostgres {
		return `
		CREATE TABLE IF NOT EXISTS inbox_records (
			consumer_type VARCHAR(255) NOT NULL,
			message_id    VARCHAR(255) NOT NULL,
			consumed_at   TIMESTAMPTZ  NOT NULL,
			CONSTRAINT uq_inbox_consumer_message UNIQUE (consumer_type, message_id)
		)`
	}
	return `
		CREATE TABLE IF NOT EXISTS inbox_records (
			consumer_type VARCHAR(255) NOT NULL,
			message_id    VARCHAR(255) NOT NULL,
			consumed_at   TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uq_inbox_consumer_message (consumer_type, message_id),
			INDEX idx_consumed_at (consumed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
}

// extraIndexes are created separately since Postgres has no inline INDEX clause.
func (d Dialect) extraIndexes() []string {
	if d != DialectPostgres {
		return nil
	}
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_outbox_published_occurred ON outbox_records (published, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_correlation ON outbox_records (correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_consumed_at ON inbox_records (consumed_at)`,
	}
}
