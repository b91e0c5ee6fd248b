package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

const (
	tableOutbox = "outbox_records"
	tableInbox  = "inbox_records"
)

// SQL queries, written with '?' placeholders and rebound per dialect.
const (
	insertEventQuery = `
		INSERT INTO %s (event_id, correlation_id, event_type, payload, headers, occurred_at, published)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)`

	markPublishedQuery = `UPDATE %s SET published = TRUE, published_at = ? WHERE published = FALSE AND event_id IN (%s)`

	fetchUnpublishedQuery = `
		SELECT event_id, correlation_id, event_type, payload, headers, occurred_at, published
		FROM %s
		WHERE published = FALSE AND occurred_at < ?
		ORDER BY occurred_at
		LIMIT ?`

	inboxExistsQuery = `SELECT 1 FROM %s WHERE consumer_type = ? AND message_id = ? LIMIT 1`

	inboxRecordQuery = `INSERT INTO %s (consumer_type, message_id, consumed_at) VALUES (?, ?, ?)`

	inboxDeleteQuery = `DELETE FROM %s WHERE consumed_at < ?`
)

var (
	_ storage.OutboxStore = (*SQLStore)(nil)
	_ storage.InboxLedger = (*SQLStore)(nil)
)

// SQLStore implements both the outbox store and the inbox ledger on one relational database.
// Writes join the transaction that the transaction manager placed in ctx.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	getter  *trmsql.CtxGetter
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a SQLStore.
type Option func(*SQLStore)

func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCtxGetter(getter *trmsql.CtxGetter) Option {
	return func(s *SQLStore) {
		if getter != nil {
			s.getter = getter
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		getter:  trmsql.DefaultCtxGetter,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLStore) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *SQLStore) query(format string, args ...any) string {
	return s.dialect.rebind(fmt.Sprintf(format, args...))
}

// InsertEvents requires the caller's transaction: outbox rows must commit atomically with business rows.
func (s *SQLStore) InsertEvents(ctx context.Context, records []storage.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}
	if trmcontext.DefaultManager.Default(ctx) == nil {
		return storage.ErrTransactionRequired
	}

	query := s.query(insertEventQuery, tableOutbox)
	tx := s.conn(ctx)
	for _, record := range records {
		var headers any
		if len(record.Headers) > 0 {
			headers = record.Headers
		}
		_, err := tx.ExecContext(ctx, query,
			record.EventID.String(),
			record.CorrelationID,
			record.EventType,
			record.Payload,
			headers,
			record.OccurredAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("event %s: %w", record.EventID, storage.ErrEventAlreadyExists)
			}
			return fmt.Errorf("failed to save outbox record: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}

	query := s.query(markPublishedQuery, tableOutbox, placeholders(len(eventIDs)))
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, s.now().UTC())
	for _, id := range eventIDs {
		args = append(args, id.String())
	}

	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark outbox records as published: %w", err)
	}
	return nil
}

func (s *SQLStore) FetchUnpublished(ctx context.Context, occurredBefore time.Time, limit int) ([]storage.OutboxRecord, error) {
	query := s.query(fetchUnpublishedQuery, tableOutbox)
	rows, err := s.conn(ctx).QueryContext(ctx, query, occurredBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished records: %w", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

func (s *SQLStore) scanRecords(rows *sql.Rows) ([]storage.OutboxRecord, error) {
	var records []storage.OutboxRecord
	for rows.Next() {
		var (
			record  storage.OutboxRecord
			eventID string
			headers []byte
		)
		if err := rows.Scan(
			&eventID,
			&record.CorrelationID,
			&record.EventType,
			&record.Payload,
			&headers,
			&record.OccurredAt,
			&record.Published,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		id, err := uuid.Parse(eventID)
		if err != nil {
			s.logger.Error("Skipping outbox row with malformed event_id", zap.String("event_id", eventID), zap.Error(err))
			continue
		}
		record.EventID = id
		record.Headers = headers
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading outbox rows: %w", err)
	}
	return records, nil
}

func (s *SQLStore) Exists(ctx context.Context, key storage.InboxKey) (bool, error) {
	query := s.query(inboxExistsQuery, tableInbox)

	var one int
	err := s.conn(ctx).QueryRowContext(ctx, query, key.ConsumerType, key.MessageID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to query inbox ledger: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Record(ctx context.Context, record storage.InboxRecord) error {
	query := s.query(inboxRecordQuery, tableInbox)
	consumedAt := record.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = s.now()
	}

	_, err := s.conn(ctx).ExecContext(ctx, query, record.ConsumerType, record.MessageID, consumedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyRecorded
		}
		return fmt.Errorf("failed to record inbox message: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.query(inboxDeleteQuery, tableInbox)
	res, err := s.conn(ctx).ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete inbox records: %w", err)
	}
	return res.RowsAffected()
}

// EnsureTables creates the outbox and inbox tables if they do not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createOutboxTable()); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableOutbox, err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.createInboxTable()); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableInbox, err)
	}
	for _, stmt := range s.dialect.extraIndexes() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	s.logger.Info("Outbox and inbox tables are ready", zap.Stringer("dialect", s.dialect))
	return nil
}
