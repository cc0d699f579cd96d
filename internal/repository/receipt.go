package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

const emailReceiptsTable = "email_receipts"

var receiptColumns = []string{
	"id", "gmail_message_id", "parse_status", "parse_error", "parsed_session_date", "parsed_total_fee",
	"parsed_courts", "parsed_location", "received_at", "raw_body", "created_at",
}

type ReceiptRepository interface {
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	// Create inserts the receipt unless its message id is already stored.
	// It reports false when the row already existed.
	Create(ctx context.Context, rec *entity.EmailReceipt) (bool, error)
	ListSuccessfulByDate(ctx context.Context, sessionDate string) ([]*entity.EmailReceipt, error)
	ListReceipts(ctx context.Context, sessionDate string, limit int) ([]*entity.EmailReceipt, error)
}

type receiptRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{
		db:     db,
		logger: logger,
	}
}

func (r *receiptRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	sel := r.db.builder().Select("id").From(entsql.Table(emailReceiptsTable)).
		Where(entsql.EQ("gmail_message_id", messageID)).Limit(1)
	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to check receipt existence", "message_id", messageID, "error", err)
		return false, err
	}
	defer rows.Close()
	exists := rows.Next()
	return exists, rows.Err()
}

func (r *receiptRepository) Create(ctx context.Context, rec *entity.EmailReceipt) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var courts any
	if rec.ParsedCourts != nil {
		b, err := json.Marshal(rec.ParsedCourts)
		if err != nil {
			return false, fmt.Errorf("encoding parsed courts: %w", err)
		}
		courts = string(b)
	}
	var receivedAt any
	if rec.ReceivedAt != nil {
		receivedAt = rec.ReceivedAt.UTC()
	}

	ins := r.db.builder().Insert(emailReceiptsTable).
		Columns(receiptColumns...).
		Values(rec.ID, rec.GmailMessageID, string(rec.ParseStatus), rec.ParseError, rec.ParsedSessionDate,
			rec.ParsedTotalFee, courts, rec.ParsedLocation, receivedAt, rec.RawBody, rec.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("gmail_message_id"), entsql.DoNothing())
	n, err := exec(ctx, r.db.SQL(), ins)
	if err != nil {
		r.logger.Error("failed to create receipt", "message_id", rec.GmailMessageID, "error", err)
		return false, err
	}
	return n > 0, nil
}

func (r *receiptRepository) ListSuccessfulByDate(ctx context.Context, sessionDate string) ([]*entity.EmailReceipt, error) {
	sel := r.db.builder().Select(receiptColumns...).From(entsql.Table(emailReceiptsTable)).
		Where(entsql.And(
			entsql.EQ("parsed_session_date", sessionDate),
			entsql.EQ("parse_status", string(constants.ParseStatusSuccess)),
		)).
		OrderBy("created_at", "gmail_message_id")
	return r.scan(ctx, sel)
}

func (r *receiptRepository) ListReceipts(ctx context.Context, sessionDate string, limit int) ([]*entity.EmailReceipt, error) {
	sel := r.db.builder().Select(receiptColumns...).From(entsql.Table(emailReceiptsTable)).
		OrderBy(entsql.Desc("created_at"), "gmail_message_id")
	if sessionDate != "" {
		sel.Where(entsql.EQ("parsed_session_date", sessionDate))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.scan(ctx, sel)
}

func (r *receiptRepository) scan(ctx context.Context, sel *entsql.Selector) ([]*entity.EmailReceipt, error) {
	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to query receipts", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.EmailReceipt
	for rows.Next() {
		var (
			rec                      entity.EmailReceipt
			status                   string
			parseErr, date, fee, loc sql.NullString
			courts                   sql.NullString
			receivedAt               sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.GmailMessageID, &status, &parseErr, &date, &fee,
			&courts, &loc, &receivedAt, &rec.RawBody, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ParseStatus = constants.ParseStatus(status)
		rec.ParseError = nullStringPtr(parseErr)
		rec.ParsedSessionDate = nullStringPtr(date)
		rec.ParsedTotalFee = nullStringPtr(fee)
		rec.ParsedLocation = nullStringPtr(loc)
		rec.ReceivedAt = nullTimePtr(receivedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		if courts.Valid && courts.String != "" {
			if err := json.Unmarshal([]byte(courts.String), &rec.ParsedCourts); err != nil {
				// A malformed stored value is treated as no courts.
				r.logger.Warn("receipt has unreadable parsed_courts", "message_id", rec.GmailMessageID, "error", err)
				rec.ParsedCourts = nil
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
