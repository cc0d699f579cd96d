package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

const (
	sessionsTable = "sessions"
	courtsTable   = "courts"
)

var sessionColumns = []string{
	"id", "session_date", "status", "start_time", "end_time", "total_fee_cents",
	"location", "splitwise_status", "payer_player_id", "guest_count", "created_at", "updated_at",
}

// SaveAggregateRequest carries a reconciled session and its full court list.
type SaveAggregateRequest struct {
	SessionDate   string
	Status        constants.SessionStatus
	StartTime     time.Time
	EndTime       time.Time
	TotalFeeCents int64
	Location      string
	Courts        []entity.Court
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	FromDate string
	ToDate   string
	Statuses []constants.SessionStatus
	Limit    int
}

type SessionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	GetByDate(ctx context.Context, sessionDate string) (*entity.Session, error)
	// MarkDraft creates a DRAFT session for the date, or moves an existing
	// non-CLOSED session back to DRAFT.
	MarkDraft(ctx context.Context, sessionDate string) (*entity.Session, error)
	// EnsureDraft creates a DRAFT session for the date if none exists and
	// leaves an existing one untouched.
	EnsureDraft(ctx context.Context, sessionDate string) (*entity.Session, error)
	// SaveAggregate upserts the session by date and replaces its courts.
	SaveAggregate(ctx context.Context, req *SaveAggregateRequest) (*entity.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*entity.Session, error)
	ListSettlementCandidates(ctx context.Context, limit int) ([]*entity.Session, error)
	SetStatus(ctx context.Context, id uuid.UUID, status constants.SessionStatus) error
	SetSplitwiseStatus(ctx context.Context, id uuid.UUID, status constants.SplitwiseStatus) error
	SetPayer(ctx context.Context, id uuid.UUID, playerID *uuid.UUID) error
	SetGuestCount(ctx context.Context, id uuid.UUID, guests int) error
	ListCourts(ctx context.Context, sessionID uuid.UUID) ([]*entity.Court, error)
}

type sessionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSessionRepository(db *DB, logger *slog.Logger) SessionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	return r.getOne(ctx, r.db.SQL(), entsql.EQ("id", id))
}

func (r *sessionRepository) GetByDate(ctx context.Context, sessionDate string) (*entity.Session, error) {
	return r.getOne(ctx, r.db.SQL(), entsql.EQ("session_date", sessionDate))
}

func (r *sessionRepository) getOne(ctx context.Context, q querier, p *entsql.Predicate) (*entity.Session, error) {
	sel := r.db.builder().Select(sessionColumns...).From(entsql.Table(sessionsTable)).Where(p).Limit(1)
	list, err := r.scan(ctx, q, sel)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return list[0], nil
}

func (r *sessionRepository) scan(ctx context.Context, q querier, sel *entsql.Selector) ([]*entity.Session, error) {
	rows, err := query(ctx, q, sel)
	if err != nil {
		r.logger.Error("failed to query sessions", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Session
	for rows.Next() {
		var (
			s          entity.Session
			start, end sql.NullTime
			payer      uuid.NullUUID
			status     string
			swStatus   string
		)
		if err := rows.Scan(&s.ID, &s.SessionDate, &status, &start, &end, &s.TotalFeeCents,
			&s.Location, &swStatus, &payer, &s.GuestCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = constants.SessionStatus(status)
		s.SplitwiseStatus = constants.SplitwiseStatus(swStatus)
		s.StartTime = nullTimePtr(start)
		s.EndTime = nullTimePtr(end)
		if payer.Valid {
			id := payer.UUID
			s.PayerPlayerID = &id
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *sessionRepository) insertDraft(ctx context.Context, q querier, sessionDate string) error {
	now := time.Now().UTC()
	ins := r.db.builder().Insert(sessionsTable).
		Columns("id", "session_date", "status", "total_fee_cents", "location", "splitwise_status", "guest_count", "created_at", "updated_at").
		Values(uuid.New(), sessionDate, string(constants.SessionStatusDraft), 0, "", string(constants.SplitwiseStatusPending), 0, now, now).
		OnConflict(entsql.ConflictColumns("session_date"), entsql.DoNothing())
	_, err := exec(ctx, q, ins)
	return err
}

func (r *sessionRepository) EnsureDraft(ctx context.Context, sessionDate string) (*entity.Session, error) {
	if err := r.insertDraft(ctx, r.db.SQL(), sessionDate); err != nil {
		r.logger.Error("failed to ensure draft session", "session_date", sessionDate, "error", err)
		return nil, err
	}
	return r.GetByDate(ctx, sessionDate)
}

func (r *sessionRepository) MarkDraft(ctx context.Context, sessionDate string) (*entity.Session, error) {
	var out *entity.Session
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.insertDraft(ctx, tx, sessionDate); err != nil {
			return err
		}
		upd := r.db.builder().Update(sessionsTable).
			Set("status", string(constants.SessionStatusDraft)).
			Set("updated_at", time.Now().UTC()).
			Where(entsql.And(
				entsql.EQ("session_date", sessionDate),
				entsql.NEQ("status", string(constants.SessionStatusClosed)),
				entsql.NEQ("status", string(constants.SessionStatusDraft)),
			))
		if _, err := exec(ctx, tx, upd); err != nil {
			return err
		}
		s, err := r.getOne(ctx, tx, entsql.EQ("session_date", sessionDate))
		out = s
		return err
	})
	if err != nil {
		r.logger.Error("failed to mark session draft", "session_date", sessionDate, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *sessionRepository) SaveAggregate(ctx context.Context, req *SaveAggregateRequest) (*entity.Session, error) {
	var out *entity.Session
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		ins := r.db.builder().Insert(sessionsTable).
			Columns("id", "session_date", "status", "start_time", "end_time", "total_fee_cents", "location",
				"splitwise_status", "guest_count", "created_at", "updated_at").
			Values(uuid.New(), req.SessionDate, string(req.Status), req.StartTime.UTC(), req.EndTime.UTC(), req.TotalFeeCents,
				req.Location, string(constants.SplitwiseStatusPending), 0, now, now).
			OnConflict(
				entsql.ConflictColumns("session_date"),
				entsql.ResolveWith(func(u *entsql.UpdateSet) {
					u.SetExcluded("status")
					u.SetExcluded("start_time")
					u.SetExcluded("end_time")
					u.SetExcluded("total_fee_cents")
					u.SetExcluded("location")
					u.SetExcluded("updated_at")
				}),
			)
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("upserting session: %w", err)
		}

		s, err := r.getOne(ctx, tx, entsql.EQ("session_date", req.SessionDate))
		if err != nil {
			return err
		}

		del := r.db.builder().Delete(courtsTable).Where(entsql.EQ("session_id", s.ID))
		if _, err := exec(ctx, tx, del); err != nil {
			return fmt.Errorf("deleting courts: %w", err)
		}
		if len(req.Courts) > 0 {
			ci := r.db.builder().Insert(courtsTable).Columns("id", "session_id", "court_label", "start_time", "end_time")
			for _, c := range req.Courts {
				ci.Values(uuid.New(), s.ID, c.CourtLabel, c.StartTime.UTC(), c.EndTime.UTC())
			}
			if _, err := exec(ctx, tx, ci); err != nil {
				return fmt.Errorf("inserting courts: %w", err)
			}
		}
		out = s
		return nil
	})
	if err != nil {
		r.logger.Error("failed to save session aggregate", "session_date", req.SessionDate, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *sessionRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]*entity.Session, error) {
	var preds []*entsql.Predicate
	if filter.FromDate != "" {
		preds = append(preds, entsql.GTE("session_date", filter.FromDate))
	}
	if filter.ToDate != "" {
		preds = append(preds, entsql.LTE("session_date", filter.ToDate))
	}
	if len(filter.Statuses) > 0 {
		args := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args[i] = string(s)
		}
		preds = append(preds, entsql.In("status", args...))
	}
	sel := r.db.builder().Select(sessionColumns...).From(entsql.Table(sessionsTable)).OrderBy("session_date")
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	return r.scan(ctx, r.db.SQL(), sel)
}

func (r *sessionRepository) ListSettlementCandidates(ctx context.Context, limit int) ([]*entity.Session, error) {
	sel := r.db.builder().Select(sessionColumns...).From(entsql.Table(sessionsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.SessionStatusClosed)),
			entsql.In("splitwise_status", string(constants.SplitwiseStatusPending), string(constants.SplitwiseStatusFailed)),
		)).
		OrderBy("session_date")
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.scan(ctx, r.db.SQL(), sel)
}

func (r *sessionRepository) update(ctx context.Context, id uuid.UUID, set func(*entsql.UpdateBuilder)) error {
	upd := r.db.builder().Update(sessionsTable).Set("updated_at", time.Now().UTC()).Where(entsql.EQ("id", id))
	set(upd)
	n, err := exec(ctx, r.db.SQL(), upd)
	if err != nil {
		r.logger.Error("failed to update session", "session_id", id, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) SetStatus(ctx context.Context, id uuid.UUID, status constants.SessionStatus) error {
	return r.update(ctx, id, func(u *entsql.UpdateBuilder) { u.Set("status", string(status)) })
}

func (r *sessionRepository) SetSplitwiseStatus(ctx context.Context, id uuid.UUID, status constants.SplitwiseStatus) error {
	return r.update(ctx, id, func(u *entsql.UpdateBuilder) { u.Set("splitwise_status", string(status)) })
}

func (r *sessionRepository) SetPayer(ctx context.Context, id uuid.UUID, playerID *uuid.UUID) error {
	return r.update(ctx, id, func(u *entsql.UpdateBuilder) {
		if playerID == nil {
			u.SetNull("payer_player_id")
			return
		}
		u.Set("payer_player_id", *playerID)
	})
}

func (r *sessionRepository) SetGuestCount(ctx context.Context, id uuid.UUID, guests int) error {
	if guests < 0 {
		return common.NewAppError("INVALID_GUEST_COUNT", "guest count must be non-negative", common.ErrInvalidInput)
	}
	return r.update(ctx, id, func(u *entsql.UpdateBuilder) { u.Set("guest_count", guests) })
}

func (r *sessionRepository) ListCourts(ctx context.Context, sessionID uuid.UUID) ([]*entity.Court, error) {
	sel := r.db.builder().Select("id", "session_id", "court_label", "start_time", "end_time").
		From(entsql.Table(courtsTable)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy("start_time", "end_time", "court_label")
	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to list courts", "session_id", sessionID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Court
	for rows.Next() {
		var c entity.Court
		if err := rows.Scan(&c.ID, &c.SessionID, &c.CourtLabel, &c.StartTime, &c.EndTime); err != nil {
			return nil, err
		}
		c.StartTime = c.StartTime.UTC()
		c.EndTime = c.EndTime.UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
