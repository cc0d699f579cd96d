package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

const expensesTable = "expenses"

var expenseColumns = []string{
	"id", "session_id", "status", "splitwise_expense_id", "amount_cents", "last_error",
	"request_payload", "response_payload", "created_at", "updated_at",
}

// ExpenseRepository persists the one settlement row each session may have.
// The row doubles as the per-session settlement lock.
type ExpenseRepository interface {
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*entity.Expense, error)
	ListBySessionIDs(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*entity.Expense, error)
	// UpsertPending claims the session for an external call. An existing row is
	// only taken over when it is FAILED, or PENDING with updated_at before
	// staleBefore; otherwise claimed is false and the current row is returned.
	UpsertPending(ctx context.Context, sessionID uuid.UUID, amountCents int64, request json.RawMessage, staleBefore time.Time) (e *entity.Expense, claimed bool, err error)
	MarkCreated(ctx context.Context, sessionID uuid.UUID, splitwiseExpenseID string, response json.RawMessage) error
	// MarkFailed records a failed attempt, creating the row if needed. A
	// CREATED row is left untouched.
	MarkFailed(ctx context.Context, sessionID uuid.UUID, amountCents int64, lastError string, response json.RawMessage) error
}

type expenseRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewExpenseRepository(db *DB, logger *slog.Logger) ExpenseRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &expenseRepository{
		db:     db,
		logger: logger,
	}
}

func (r *expenseRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*entity.Expense, error) {
	sel := r.db.builder().Select(expenseColumns...).From(entsql.Table(expensesTable)).
		Where(entsql.EQ("session_id", sessionID)).Limit(1)
	list, err := r.scan(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return list[0], nil
}

func (r *expenseRepository) ListBySessionIDs(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*entity.Expense, error) {
	out := make(map[uuid.UUID]*entity.Expense, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		args[i] = id
	}
	sel := r.db.builder().Select(expenseColumns...).From(entsql.Table(expensesTable)).
		Where(entsql.In("session_id", args...))
	list, err := r.scan(ctx, sel)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.SessionID] = e
	}
	return out, nil
}

func (r *expenseRepository) UpsertPending(ctx context.Context, sessionID uuid.UUID, amountCents int64, request json.RawMessage, staleBefore time.Time) (*entity.Expense, bool, error) {
	now := time.Now().UTC()
	ins := r.db.builder().Insert(expensesTable).
		Columns("id", "session_id", "status", "amount_cents", "request_payload", "created_at", "updated_at").
		Values(uuid.New(), sessionID, string(constants.ExpenseStatusPending), amountCents, jsonArg(request), now, now).
		OnConflict(
			entsql.ConflictColumns("session_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("amount_cents")
				u.SetExcluded("request_payload")
				u.SetExcluded("updated_at")
				u.SetNull("last_error")
				u.SetNull("response_payload")
			}),
			entsql.UpdateWhere(entsql.Or(
				entsql.EQ("status", string(constants.ExpenseStatusFailed)),
				entsql.And(
					entsql.EQ("status", string(constants.ExpenseStatusPending)),
					entsql.LT("updated_at", staleBefore.UTC()),
				),
			)),
		)
	n, err := exec(ctx, r.db.SQL(), ins)
	if err != nil {
		r.logger.Error("failed to upsert pending expense", "session_id", sessionID, "error", err)
		return nil, false, err
	}
	e, err := r.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		r.logger.Info("expense claim refused", "session_id", sessionID, "status", e.Status, "updated_at", e.UpdatedAt)
		return e, false, nil
	}
	return e, true, nil
}

func (r *expenseRepository) MarkCreated(ctx context.Context, sessionID uuid.UUID, splitwiseExpenseID string, response json.RawMessage) error {
	upd := r.db.builder().Update(expensesTable).
		Set("status", string(constants.ExpenseStatusCreated)).
		Set("splitwise_expense_id", splitwiseExpenseID).
		Set("response_payload", jsonArg(response)).
		SetNull("last_error").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("session_id", sessionID))
	n, err := exec(ctx, r.db.SQL(), upd)
	if err != nil {
		r.logger.Error("failed to mark expense created", "session_id", sessionID, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *expenseRepository) MarkFailed(ctx context.Context, sessionID uuid.UUID, amountCents int64, lastError string, response json.RawMessage) error {
	now := time.Now().UTC()
	ins := r.db.builder().Insert(expensesTable).
		Columns("id", "session_id", "status", "amount_cents", "last_error", "response_payload", "created_at", "updated_at").
		Values(uuid.New(), sessionID, string(constants.ExpenseStatusFailed), amountCents, lastError, jsonArg(response), now, now).
		OnConflict(
			entsql.ConflictColumns("session_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("amount_cents")
				u.SetExcluded("last_error")
				u.SetExcluded("response_payload")
				u.SetExcluded("updated_at")
			}),
			entsql.UpdateWhere(entsql.NEQ("status", string(constants.ExpenseStatusCreated))),
		)
	if _, err := exec(ctx, r.db.SQL(), ins); err != nil {
		r.logger.Error("failed to mark expense failed", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

func (r *expenseRepository) scan(ctx context.Context, sel *entsql.Selector) ([]*entity.Expense, error) {
	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to query expenses", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Expense
	for rows.Next() {
		var (
			e                 entity.Expense
			status            string
			swID, lastErr     sql.NullString
			request, response sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &status, &swID, &e.AmountCents, &lastErr,
			&request, &response, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = constants.ExpenseStatus(status)
		e.SplitwiseExpenseID = nullStringPtr(swID)
		e.LastError = nullStringPtr(lastErr)
		if request.Valid {
			e.RequestPayload = json.RawMessage(request.String)
		}
		if response.Valid {
			e.ResponsePayload = json.RawMessage(response.String)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// jsonArg binds a JSON document, or NULL when empty.
func jsonArg(doc json.RawMessage) any {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}
