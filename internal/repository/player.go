package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

const playersTable = "players"

var playerColumns = []string{"id", "name", "email", "splitwise_user_id", "is_default_payer", "created_at", "updated_at"}

type Player struct {
	Name            string  `json:"name" validate:"required,max=200"`
	Email           *string `json:"email" validate:"omitempty,email"`
	SplitwiseUserID *int64  `json:"splitwise_user_id" validate:"omitempty,gt=0"`
}

type PlayerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Player, error)
	CreatePlayer(ctx context.Context, p *Player) (*entity.Player, error)
	ListPlayers(ctx context.Context) ([]*entity.Player, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*entity.Player, error)
	ListDefaultPayers(ctx context.Context) ([]*entity.Player, error)
	SetSplitwiseUserID(ctx context.Context, id uuid.UUID, splitwiseUserID *int64) error
	// SetDefaultPayer clears every other default flag and sets this one in a
	// single transaction, so at most one default payer exists.
	SetDefaultPayer(ctx context.Context, id uuid.UUID) error
}

type playerRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewPlayerRepository(db *DB, logger *slog.Logger) PlayerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &playerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *playerRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Player, error) {
	list, err := r.scan(ctx, r.db.SQL(), r.selectPlayers().Where(entsql.EQ("id", id)).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return list[0], nil
}

func (r *playerRepository) CreatePlayer(ctx context.Context, p *Player) (*entity.Player, error) {
	now := time.Now().UTC()
	out := &entity.Player{
		ID:              uuid.New(),
		Name:            p.Name,
		Email:           p.Email,
		SplitwiseUserID: p.SplitwiseUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ins := r.db.builder().Insert(playersTable).
		Columns(playerColumns...).
		Values(out.ID, out.Name, out.Email, out.SplitwiseUserID, false, now, now)
	if _, err := exec(ctx, r.db.SQL(), ins); err != nil {
		r.logger.Error("failed to create player", "name", p.Name, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *playerRepository) ListPlayers(ctx context.Context) ([]*entity.Player, error) {
	return r.scan(ctx, r.db.SQL(), r.selectPlayers().OrderBy("name", "created_at"))
}

func (r *playerRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*entity.Player, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.scan(ctx, r.db.SQL(), r.selectPlayers().Where(entsql.In("id", args...)).OrderBy("name"))
}

func (r *playerRepository) ListDefaultPayers(ctx context.Context) ([]*entity.Player, error) {
	return r.scan(ctx, r.db.SQL(), r.selectPlayers().Where(entsql.EQ("is_default_payer", true)).OrderBy("created_at"))
}

func (r *playerRepository) SetSplitwiseUserID(ctx context.Context, id uuid.UUID, splitwiseUserID *int64) error {
	upd := r.db.builder().Update(playersTable).Set("updated_at", time.Now().UTC()).Where(entsql.EQ("id", id))
	if splitwiseUserID == nil {
		upd.SetNull("splitwise_user_id")
	} else {
		upd.Set("splitwise_user_id", *splitwiseUserID)
	}
	n, err := exec(ctx, r.db.SQL(), upd)
	if err != nil {
		r.logger.Error("failed to set splitwise user id", "player_id", id, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *playerRepository) SetDefaultPayer(ctx context.Context, id uuid.UUID) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		unset := r.db.builder().Update(playersTable).
			Set("is_default_payer", false).
			Set("updated_at", now).
			Where(entsql.And(entsql.EQ("is_default_payer", true), entsql.NEQ("id", id)))
		if _, err := exec(ctx, tx, unset); err != nil {
			return err
		}
		set := r.db.builder().Update(playersTable).
			Set("is_default_payer", true).
			Set("updated_at", now).
			Where(entsql.EQ("id", id))
		n, err := exec(ctx, tx, set)
		if err != nil {
			return err
		}
		if n == 0 {
			return common.ErrNotFound
		}
		return nil
	})
	if err != nil && !IsNotFound(err) {
		r.logger.Error("failed to set default payer", "player_id", id, "error", err)
	}
	return err
}

func (r *playerRepository) selectPlayers() *entsql.Selector {
	return r.db.builder().Select(playerColumns...).From(entsql.Table(playersTable))
}

func (r *playerRepository) scan(ctx context.Context, q querier, sel *entsql.Selector) ([]*entity.Player, error) {
	rows, err := query(ctx, q, sel)
	if err != nil {
		r.logger.Error("failed to query players", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Player
	for rows.Next() {
		var (
			p     entity.Player
			email sql.NullString
			swID  sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Name, &email, &swID, &p.IsDefaultPayer, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Email = nullStringPtr(email)
		if swID.Valid {
			v := swID.Int64
			p.SplitwiseUserID = &v
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}
