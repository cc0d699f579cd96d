// Package roster manages who plays in a session and who pays for it.
package roster

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
)

type Config struct {
	// PlayersPerCourt sets capacity per distinct court label. Zero disables FULL.
	PlayersPerCourt int
}

// Service handles roster and player business logic.
type Service struct {
	sessions     repository.SessionRepository
	players      repository.PlayerRepository
	participants repository.ParticipantRepository
	receipts     repository.ReceiptRepository
	expenses     repository.ExpenseRepository
	cfg          Config
	logger       *slog.Logger
}

func NewService(
	sessions repository.SessionRepository,
	players repository.PlayerRepository,
	participants repository.ParticipantRepository,
	receipts repository.ReceiptRepository,
	expenses repository.ExpenseRepository,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:     sessions,
		players:      players,
		participants: participants,
		receipts:     receipts,
		expenses:     expenses,
		cfg:          cfg,
		logger:       logger,
	}
}

// SessionDetail is a session with everything hanging off it.
type SessionDetail struct {
	Session      *entity.Session       `json:"session"`
	Courts       []*entity.Court       `json:"courts"`
	Participants []*entity.Participant `json:"participants"`
	Capacity     int                   `json:"capacity"`
	Joined       int                   `json:"joined"`
	Expense      *entity.Expense       `json:"expense,omitempty"`
}

// Capacity is distinct court labels times players per court.
func Capacity(courts []*entity.Court, playersPerCourt int) int {
	labels := map[string]struct{}{}
	for _, c := range courts {
		labels[c.CourtLabel] = struct{}{}
	}
	return len(labels) * playersPerCourt
}

func (s *Service) getSession(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, common.NewAppError("SESSION_NOT_FOUND", "session "+id.String()+" not found", common.ErrNotFound)
		}
		return nil, err
	}
	return sess, nil
}

func (s *Service) getPlayer(ctx context.Context, id uuid.UUID) (*entity.Player, error) {
	p, err := s.players.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, common.NewAppError("PLAYER_NOT_FOUND", "player "+id.String()+" not found", common.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) capacity(ctx context.Context, sessionID uuid.UUID) (int, error) {
	if s.cfg.PlayersPerCourt <= 0 {
		return 0, nil
	}
	courts, err := s.sessions.ListCourts(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return Capacity(courts, s.cfg.PlayersPerCourt), nil
}

// Join adds the player to an OPEN session. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, sessionID, playerID uuid.UUID) (*SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	joined, err := s.isJoined(ctx, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	if joined {
		return s.GetSession(ctx, sessionID)
	}

	switch sess.Status {
	case constants.SessionStatusOpen:
	case constants.SessionStatusFull:
		return nil, common.NewAppError(constants.RosterSessionFull, "session "+sess.SessionDate+" is full", common.ErrFailedPrecondition)
	default:
		return nil, common.NewAppError(constants.RosterSessionNotOpen, "session "+sess.SessionDate+" is "+string(sess.Status), common.ErrFailedPrecondition)
	}

	capacity, err := s.capacity(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if capacity > 0 {
		count, err := s.participants.CountJoined(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if count+sess.GuestCount >= capacity {
			return nil, common.NewAppError(constants.RosterSessionFull, "session "+sess.SessionDate+" is full", common.ErrFailedPrecondition)
		}
	}

	if _, err := s.participants.Upsert(ctx, sessionID, playerID, constants.ParticipantJoined); err != nil {
		return nil, err
	}
	s.logger.Info("roster.join", "session_id", sessionID, "player_id", playerID)
	if err := s.reevaluate(ctx, sess); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// Withdraw marks the player WITHDRAWN. A FULL session that drops below
// capacity reopens.
func (s *Service) Withdraw(ctx context.Context, sessionID, playerID uuid.UUID) (*SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == constants.SessionStatusClosed {
		return nil, common.NewAppError(constants.RosterSessionClosed, "session "+sess.SessionDate+" is closed", common.ErrFailedPrecondition)
	}
	joined, err := s.isJoined(ctx, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	if !joined {
		return nil, common.NewAppError(constants.RosterNotJoined, "player has not joined this session", common.ErrFailedPrecondition)
	}
	if _, err := s.participants.Upsert(ctx, sessionID, playerID, constants.ParticipantWithdrawn); err != nil {
		return nil, err
	}
	s.logger.Info("roster.withdraw", "session_id", sessionID, "player_id", playerID)
	if err := s.reevaluate(ctx, sess); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// SetGuestCount records unnamed guests, who take capacity but are not split.
func (s *Service) SetGuestCount(ctx context.Context, sessionID uuid.UUID, guests int) (*SessionDetail, error) {
	if guests < 0 {
		return nil, common.NewAppError("INVALID_GUEST_COUNT", "guest count must be non-negative", common.ErrInvalidInput)
	}
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == constants.SessionStatusClosed {
		return nil, common.NewAppError(constants.RosterSessionClosed, "session "+sess.SessionDate+" is closed", common.ErrFailedPrecondition)
	}
	if err := s.sessions.SetGuestCount(ctx, sessionID, guests); err != nil {
		return nil, err
	}
	sess.GuestCount = guests
	if err := s.reevaluate(ctx, sess); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// SetSessionPayer overrides the default payer for one session. A nil player
// clears the override.
func (s *Service) SetSessionPayer(ctx context.Context, sessionID uuid.UUID, playerID *uuid.UUID) (*SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SplitwiseStatus == constants.SplitwiseStatusCreated {
		return nil, common.NewAppError(constants.RosterAlreadySettled, "expense already created for "+sess.SessionDate, common.ErrFailedPrecondition)
	}
	if playerID != nil {
		if _, err := s.getPlayer(ctx, *playerID); err != nil {
			return nil, err
		}
	}
	if err := s.sessions.SetPayer(ctx, sessionID, playerID); err != nil {
		return nil, err
	}
	s.logger.Info("roster.payer.set", "session_id", sessionID, "player_id", playerID)
	return s.GetSession(ctx, sessionID)
}

// CloseSession closes an OPEN or FULL session so the next sweep settles it.
// Closing a CLOSED session is a no-op.
func (s *Service) CloseSession(ctx context.Context, sessionID uuid.UUID) (*SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case constants.SessionStatusClosed:
	case constants.SessionStatusOpen, constants.SessionStatusFull:
		if err := s.sessions.SetStatus(ctx, sessionID, constants.SessionStatusClosed); err != nil {
			return nil, err
		}
		s.logger.Info("roster.session.closed", "session_id", sessionID, "session_date", sess.SessionDate)
	default:
		return nil, common.NewAppError(constants.RosterSessionNotOpen, "draft session "+sess.SessionDate+" needs review before closing", common.ErrFailedPrecondition)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Service) isJoined(ctx context.Context, sessionID, playerID uuid.UUID) (bool, error) {
	list, err := s.participants.ListBySession(ctx, sessionID, constants.ParticipantJoined)
	if err != nil {
		return false, err
	}
	for _, p := range list {
		if p.PlayerID == playerID {
			return true, nil
		}
	}
	return false, nil
}

// Refresh re-checks an OPEN or FULL session against its current courts,
// joined players and guests. Court lists change when new receipts arrive.
func (s *Service) Refresh(ctx context.Context, sessionID uuid.UUID) (*entity.Session, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.reevaluate(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// reevaluate flips OPEN and FULL to match joined + guests against capacity.
func (s *Service) reevaluate(ctx context.Context, sess *entity.Session) error {
	if sess.Status != constants.SessionStatusOpen && sess.Status != constants.SessionStatusFull {
		return nil
	}
	capacity, err := s.capacity(ctx, sess.ID)
	if err != nil {
		return err
	}
	joined, err := s.participants.CountJoined(ctx, sess.ID)
	if err != nil {
		return err
	}
	next := constants.SessionStatusOpen
	if capacity > 0 && joined+sess.GuestCount >= capacity {
		next = constants.SessionStatusFull
	}
	if next == sess.Status {
		return nil
	}
	if err := s.sessions.SetStatus(ctx, sess.ID, next); err != nil {
		return err
	}
	s.logger.Info("roster.session.status", "session_id", sess.ID, "from", sess.Status, "to", next, "joined", joined, "guests", sess.GuestCount, "capacity", capacity)
	sess.Status = next
	return nil
}

// GetSession loads a session with courts, participants and its expense.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	courts, err := s.sessions.ListCourts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	parts, err := s.participants.ListBySession(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}
	joined := 0
	for _, p := range parts {
		if p.Status == constants.ParticipantJoined {
			joined++
		}
	}
	detail := &SessionDetail{
		Session:      sess,
		Courts:       courts,
		Participants: parts,
		Capacity:     Capacity(courts, s.cfg.PlayersPerCourt),
		Joined:       joined,
	}
	exp, err := s.expenses.GetBySession(ctx, sessionID)
	switch {
	case err == nil:
		detail.Expense = exp
	case !repository.IsNotFound(err):
		return nil, err
	}
	return detail, nil
}

type ListSessionsRequest struct {
	From   string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Status string `json:"status"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

func (s *Service) ListSessions(ctx context.Context, req ListSessionsRequest) ([]*entity.Session, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	filter := repository.SessionFilter{FromDate: req.From, ToDate: req.To, Limit: req.Limit}
	if strings.TrimSpace(req.Status) != "" {
		st, ok := constants.ParseSessionStatus(req.Status)
		if !ok {
			return nil, common.NewAppError("INVALID_STATUS", "unknown session status "+req.Status, common.ErrInvalidInput)
		}
		filter.Statuses = []constants.SessionStatus{st}
	}
	return s.sessions.ListSessions(ctx, filter)
}

// ListReceipts returns receipts, newest first, optionally for one session date.
func (s *Service) ListReceipts(ctx context.Context, sessionDate string, limit int) ([]*entity.EmailReceipt, error) {
	if err := common.ValidateStruct(struct {
		SessionDate string `json:"session_date" validate:"omitempty,datetime=2006-01-02"`
	}{sessionDate}); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.receipts.ListReceipts(ctx, sessionDate, limit)
}

// CreatePlayerRequest represents player creation parameters.
type CreatePlayerRequest struct {
	Name            string
	Email           string
	SplitwiseUserID int64
}

func (s *Service) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*entity.Player, error) {
	p := &repository.Player{Name: strings.TrimSpace(req.Name)}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		p.Email = &email
	}
	if req.SplitwiseUserID != 0 {
		id := req.SplitwiseUserID
		p.SplitwiseUserID = &id
	}
	if err := common.ValidateStruct(p); err != nil {
		return nil, err
	}
	if p.Email != nil {
		existing, err := s.players.ListPlayers(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if e.Email != nil && strings.EqualFold(*e.Email, *p.Email) {
				return nil, common.NewAppError(constants.RosterDuplicateEmail, "a player with email "+*p.Email+" exists", common.ErrConflict)
			}
		}
	}
	out, err := s.players.CreatePlayer(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("player created successfully", "player_id", out.ID, "name", out.Name)
	return out, nil
}

func (s *Service) ListPlayers(ctx context.Context) ([]*entity.Player, error) {
	return s.players.ListPlayers(ctx)
}

// SetSplitwiseUserID maps a player to their Splitwise account; nil unmaps.
func (s *Service) SetSplitwiseUserID(ctx context.Context, playerID uuid.UUID, splitwiseUserID *int64) (*entity.Player, error) {
	if splitwiseUserID != nil && *splitwiseUserID <= 0 {
		return nil, common.NewAppError("INVALID_SPLITWISE_USER", "splitwise user id must be positive", common.ErrInvalidInput)
	}
	if _, err := s.getPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	if err := s.players.SetSplitwiseUserID(ctx, playerID, splitwiseUserID); err != nil {
		return nil, err
	}
	return s.players.GetByID(ctx, playerID)
}

// SetDefaultPayer makes the player the club-wide default payer, clearing the
// flag everywhere else.
func (s *Service) SetDefaultPayer(ctx context.Context, playerID uuid.UUID) (*entity.Player, error) {
	if _, err := s.getPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	if err := s.players.SetDefaultPayer(ctx, playerID); err != nil {
		return nil, err
	}
	s.logger.Info("roster.default_payer.set", "player_id", playerID)
	return s.players.GetByID(ctx, playerID)
}

// IsRejection reports whether err is a roster rule violation rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, common.ErrFailedPrecondition) || errors.Is(err, common.ErrInvalidInput) ||
		errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound)
}
