package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

const participantsTable = "session_participants"

type ParticipantRepository interface {
	// Upsert sets the player's status on the session, creating the row on first join.
	Upsert(ctx context.Context, sessionID, playerID uuid.UUID, status constants.ParticipantStatus) (*entity.Participant, error)
	// ListBySession returns participants with their players loaded. An empty
	// status returns every participant.
	ListBySession(ctx context.Context, sessionID uuid.UUID, status constants.ParticipantStatus) ([]*entity.Participant, error)
	CountJoined(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type participantRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewParticipantRepository(db *DB, logger *slog.Logger) ParticipantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &participantRepository{
		db:     db,
		logger: logger,
	}
}

func (r *participantRepository) Upsert(ctx context.Context, sessionID, playerID uuid.UUID, status constants.ParticipantStatus) (*entity.Participant, error) {
	now := time.Now().UTC()
	ins := r.db.builder().Insert(participantsTable).
		Columns("id", "session_id", "player_id", "status", "joined_at", "updated_at").
		Values(uuid.New(), sessionID, playerID, string(status), now, now).
		OnConflict(
			entsql.ConflictColumns("session_id", "player_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("updated_at")
			}),
		)
	if _, err := exec(ctx, r.db.SQL(), ins); err != nil {
		r.logger.Error("failed to upsert participant", "session_id", sessionID, "player_id", playerID, "error", err)
		return nil, err
	}

	sp := r.alias()
	list, err := r.list(ctx, entsql.And(
		entsql.EQ(sp.C("session_id"), sessionID),
		entsql.EQ(sp.C("player_id"), playerID),
	))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sql.ErrNoRows
	}
	return list[0], nil
}

func (r *participantRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, status constants.ParticipantStatus) ([]*entity.Participant, error) {
	sp := r.alias()
	pred := entsql.EQ(sp.C("session_id"), sessionID)
	if status != "" {
		pred = entsql.And(pred, entsql.EQ(sp.C("status"), string(status)))
	}
	return r.list(ctx, pred)
}

func (r *participantRepository) alias() *entsql.SelectTable {
	return r.db.builder().Table(participantsTable).As("sp")
}

func (r *participantRepository) list(ctx context.Context, pred *entsql.Predicate) ([]*entity.Participant, error) {
	b := r.db.builder()
	sp := r.alias()
	p := b.Table(playersTable).As("p")
	sel := b.Select(
		sp.C("id"), sp.C("session_id"), sp.C("player_id"), sp.C("status"), sp.C("joined_at"), sp.C("updated_at"),
		p.C("name"), p.C("email"), p.C("splitwise_user_id"), p.C("is_default_payer"), p.C("created_at"), p.C("updated_at"),
	).
		From(sp).
		Join(p).On(sp.C("player_id"), p.C("id")).
		Where(pred).
		OrderBy(sp.C("joined_at"), p.C("name"))

	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to list participants", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Participant
	for rows.Next() {
		var (
			pt     entity.Participant
			pl     entity.Player
			status string
			email  sql.NullString
			swID   sql.NullInt64
		)
		if err := rows.Scan(&pt.ID, &pt.SessionID, &pt.PlayerID, &status, &pt.JoinedAt, &pt.UpdatedAt,
			&pl.Name, &email, &swID, &pl.IsDefaultPayer, &pl.CreatedAt, &pl.UpdatedAt); err != nil {
			return nil, err
		}
		pt.Status = constants.ParticipantStatus(status)
		pt.JoinedAt = pt.JoinedAt.UTC()
		pt.UpdatedAt = pt.UpdatedAt.UTC()
		pl.ID = pt.PlayerID
		pl.Email = nullStringPtr(email)
		if swID.Valid {
			v := swID.Int64
			pl.SplitwiseUserID = &v
		}
		pl.CreatedAt = pl.CreatedAt.UTC()
		pl.UpdatedAt = pl.UpdatedAt.UTC()
		pt.Player = &pl
		out = append(out, &pt)
	}
	return out, rows.Err()
}

func (r *participantRepository) CountJoined(ctx context.Context, sessionID uuid.UUID) (int, error) {
	sel := r.db.builder().Select(entsql.Count("*")).From(entsql.Table(participantsTable)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("status", string(constants.ParticipantJoined)),
		))
	rows, err := query(ctx, r.db.SQL(), sel)
	if err != nil {
		r.logger.Error("failed to count participants", "session_id", sessionID, "error", err)
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
