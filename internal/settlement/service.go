// Package settlement posts closed sessions to Splitwise as shared expenses.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
	"github.com/joseph-ayodele/club-sessions/internal/splitwise"
)

const maxSummaryErrors = 50

// sgt is the club's fixed UTC+8 zone.
var sgt = time.FixedZone("SGT", 8*60*60)

// ExpenseCreator is the external settlement API.
type ExpenseCreator interface {
	HasAPIKey() bool
	CreateExpense(ctx context.Context, payload splitwise.Payload) (*splitwise.CreateResult, error)
}

type Config struct {
	GroupID         string
	CurrencyCode    string
	LockWindow      time.Duration
	AutoCloseWindow time.Duration
	BatchSize       int
}

type Options struct {
	// DryRun validates and resolves everything but takes no lock, makes no
	// external call and writes nothing.
	DryRun bool
}

type Window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ItemError struct {
	SessionID   string `json:"session_id"`
	SessionDate string `json:"session_date"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type Summary struct {
	OK               bool        `json:"ok"`
	DryRun           bool        `json:"dry_run"`
	Window           Window      `json:"window"`
	ClosedUpdated    int         `json:"closed_updated"`
	CloseSkipped     int         `json:"close_skipped"`
	SplitwiseCreated int         `json:"splitwise_created"`
	SplitwiseSkipped int         `json:"splitwise_skipped"`
	SplitwiseFailed  int         `json:"splitwise_failed"`
	Errors           []ItemError `json:"errors"`
}

func (s *Summary) addError(sess *entity.Session, code constants.SettlementCode, msg string) {
	if len(s.Errors) >= maxSummaryErrors {
		return
	}
	s.Errors = append(s.Errors, ItemError{
		SessionID:   sess.ID.String(),
		SessionDate: sess.SessionDate,
		Code:        string(code),
		Message:     msg,
	})
}

type Service struct {
	sessions     repository.SessionRepository
	players      repository.PlayerRepository
	participants repository.ParticipantRepository
	expenses     repository.ExpenseRepository
	client       ExpenseCreator
	cfg          Config
	now          func() time.Time
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewService(
	sessions repository.SessionRepository,
	players repository.PlayerRepository,
	participants repository.ParticipantRepository,
	expenses repository.ExpenseRepository,
	client ExpenseCreator,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockWindow <= 0 {
		cfg.LockWindow = 10 * time.Minute
	}
	if cfg.AutoCloseWindow <= 0 {
		cfg.AutoCloseWindow = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = "SGD"
	}
	return &Service{
		sessions:     sessions,
		players:      players,
		participants: participants,
		expenses:     expenses,
		client:       client,
		cfg:          cfg,
		now:          time.Now,
		tracer:       otel.Tracer("github.com/joseph-ayodele/club-sessions/internal/settlement"),
		logger:       logger,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Run closes recently finished sessions and then settles up to BatchSize
// closed sessions whose Splitwise status is PENDING or FAILED. Per-session
// problems are tallied in the summary and never abort the sweep.
func (s *Service) Run(ctx context.Context, opts Options) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.run", trace.WithAttributes(attribute.Bool("dry_run", opts.DryRun)))
	defer span.End()

	now := s.now()
	summary := &Summary{
		OK:     true,
		DryRun: opts.DryRun,
		Window: Window{
			From: now.Add(-s.cfg.AutoCloseWindow).In(sgt).Format(time.DateOnly),
			To:   now.In(sgt).Format(time.DateOnly),
		},
		Errors: []ItemError{},
	}
	s.logger.Info("settlement.start", "window_from", summary.Window.From, "window_to", summary.Window.To, "dry_run", opts.DryRun)

	if err := s.autoClose(ctx, now, opts, summary); err != nil {
		summary.OK = false
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}

	candidates, err := s.sessions.ListSettlementCandidates(ctx, s.cfg.BatchSize)
	if err != nil {
		summary.OK = false
		s.logger.Error("settlement.candidates.error", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("listing settlement candidates: %w", err)
	}

	for _, sess := range candidates {
		s.settleOne(ctx, sess, now, opts, summary)
	}

	span.SetAttributes(
		attribute.Int("closed_updated", summary.ClosedUpdated),
		attribute.Int("splitwise_created", summary.SplitwiseCreated),
		attribute.Int("splitwise_failed", summary.SplitwiseFailed),
	)
	s.logger.Info("settlement.done",
		"closed_updated", summary.ClosedUpdated,
		"close_skipped", summary.CloseSkipped,
		"created", summary.SplitwiseCreated,
		"skipped", summary.SplitwiseSkipped,
		"failed", summary.SplitwiseFailed,
	)
	return summary, nil
}

// autoClose moves OPEN and FULL sessions dated inside the trailing window to
// CLOSED once their last court has ended.
func (s *Service) autoClose(ctx context.Context, now time.Time, opts Options, summary *Summary) error {
	open, err := s.sessions.ListSessions(ctx, repository.SessionFilter{
		FromDate: summary.Window.From,
		ToDate:   summary.Window.To,
		Statuses: []constants.SessionStatus{constants.SessionStatusOpen, constants.SessionStatusFull},
	})
	if err != nil {
		s.logger.Error("settlement.autoclose.list_error", "error", err)
		return fmt.Errorf("listing sessions to close: %w", err)
	}
	for _, sess := range open {
		if sess.EndTime != nil && sess.EndTime.After(now) {
			summary.CloseSkipped++
			continue
		}
		if opts.DryRun {
			summary.ClosedUpdated++
			continue
		}
		if err := s.sessions.SetStatus(ctx, sess.ID, constants.SessionStatusClosed); err != nil {
			s.logger.Error("settlement.autoclose.update_error", "session_date", sess.SessionDate, "error", err)
			summary.CloseSkipped++
			summary.addError(sess, constants.CodeDatabase, err.Error())
			continue
		}
		summary.ClosedUpdated++
		s.logger.Info("settlement.autoclose.closed", "session_id", sess.ID, "session_date", sess.SessionDate)
	}
	return nil
}

// failure is a settlement problem with a stable code.
type failure struct {
	code constants.SettlementCode
	msg  string
}

func (f *failure) Error() string { return string(f.code) + ": " + f.msg }

func fail(code constants.SettlementCode, format string, args ...any) *failure {
	return &failure{code: code, msg: fmt.Sprintf(format, args...)}
}

func (s *Service) settleOne(ctx context.Context, sess *entity.Session, now time.Time, opts Options, summary *Summary) {
	ctx, span := s.tracer.Start(ctx, "settlement.session", trace.WithAttributes(
		attribute.String("session_id", sess.ID.String()),
		attribute.String("session_date", sess.SessionDate),
	))
	defer span.End()
	log := s.logger.With("session_id", sess.ID, "session_date", sess.SessionDate)

	existing, err := s.expenses.GetBySession(ctx, sess.ID)
	if err != nil && !repository.IsNotFound(err) {
		log.Error("settlement.session.load_expense_error", "error", err)
		summary.SplitwiseFailed++
		summary.addError(sess, constants.CodeDatabase, err.Error())
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if err != nil {
		existing = nil
	}

	if s.alreadyCreated(ctx, sess, existing, opts, summary) {
		return
	}

	payload, f := s.prepare(ctx, sess)
	if f != nil {
		log.Warn("settlement.session.precondition_failed", "code", f.code, "message", f.msg)
		summary.SplitwiseFailed++
		summary.addError(sess, f.code, f.msg)
		span.SetStatus(codes.Error, f.Error())
		if !opts.DryRun {
			s.recordFailure(ctx, sess, f, nil)
		}
		return
	}

	if s.inFlight(sess, existing, now, summary) {
		return
	}

	if opts.DryRun {
		summary.SplitwiseSkipped++
		log.Info("settlement.session.dry_run", "cost", payload["cost"])
		return
	}

	claimed, ok, err := s.expenses.UpsertPending(ctx, sess.ID, sess.TotalFeeCents, payload.JSON(), now.Add(-s.cfg.LockWindow))
	if err != nil {
		log.Error("settlement.session.lock_error", "error", err)
		summary.SplitwiseFailed++
		summary.addError(sess, constants.CodeLockFailed, err.Error())
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if !ok {
		// Another attempt moved the row after it was read above.
		if !s.alreadyCreated(ctx, sess, claimed, opts, summary) && !s.inFlight(sess, claimed, now, summary) {
			summary.SplitwiseSkipped++
			summary.addError(sess, constants.CodeInProgress, "settlement row is held by another attempt")
		}
		return
	}

	res, err := s.client.CreateExpense(ctx, payload)
	if err != nil {
		var apiErr *splitwise.APIError
		f := fail(constants.CodeSplitwiseRequest, "%v", err)
		var raw []byte
		if errors.As(err, &apiErr) {
			f = fail(apiErr.Code, "%s", apiErr.Message)
			raw = apiErr.Raw
		}
		log.Error("settlement.session.failed", "code", f.code, "error", err)
		summary.SplitwiseFailed++
		summary.addError(sess, f.code, f.msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, f.Error())
		s.recordFailure(ctx, sess, f, raw)
		return
	}

	if err := s.expenses.MarkCreated(ctx, sess.ID, res.ExpenseID, res.Raw); err != nil {
		// The expense exists upstream; the PENDING row keeps later sweeps off it
		// until the lock window passes.
		log.Error("settlement.session.mark_created_error", "splitwise_expense_id", res.ExpenseID, "error", err)
		summary.SplitwiseFailed++
		summary.addError(sess, constants.CodeDatabase, fmt.Sprintf("created splitwise expense %s but could not record it: %v", res.ExpenseID, err))
		return
	}
	if err := s.sessions.SetSplitwiseStatus(ctx, sess.ID, constants.SplitwiseStatusCreated); err != nil {
		log.Error("settlement.session.status_error", "error", err)
	}
	summary.SplitwiseCreated++
	span.SetAttributes(attribute.String("splitwise_expense_id", res.ExpenseID))
	log.Info("settlement.session.created", "splitwise_expense_id", res.ExpenseID)
}

// alreadyCreated skips a session whose expense was posted, repairing the
// session status.
func (s *Service) alreadyCreated(ctx context.Context, sess *entity.Session, e *entity.Expense, opts Options, summary *Summary) bool {
	if e == nil || e.Status != constants.ExpenseStatusCreated || e.SplitwiseExpenseID == nil || *e.SplitwiseExpenseID == "" {
		return false
	}
	summary.SplitwiseSkipped++
	if !opts.DryRun {
		if err := s.sessions.SetSplitwiseStatus(ctx, sess.ID, constants.SplitwiseStatusCreated); err != nil {
			s.logger.Error("settlement.session.repair_error", "session_id", sess.ID, "error", err)
		}
	}
	s.logger.Info("settlement.session.already_created", "session_id", sess.ID, "splitwise_expense_id", *e.SplitwiseExpenseID)
	return true
}

// inFlight skips a session whose expense row is PENDING inside the lock window.
func (s *Service) inFlight(sess *entity.Session, e *entity.Expense, now time.Time, summary *Summary) bool {
	if e == nil || e.Status != constants.ExpenseStatusPending || now.Sub(e.UpdatedAt) >= s.cfg.LockWindow {
		return false
	}
	s.logger.Info("settlement.session.in_progress", "session_id", sess.ID, "updated_at", e.UpdatedAt)
	summary.SplitwiseSkipped++
	summary.addError(sess, constants.CodeInProgress,
		fmt.Sprintf("another settlement attempt started at %s; retry after %s", e.UpdatedAt.Format(time.RFC3339), s.cfg.LockWindow))
	return true
}

func (s *Service) recordFailure(ctx context.Context, sess *entity.Session, f *failure, raw []byte) {
	if err := s.expenses.MarkFailed(ctx, sess.ID, sess.TotalFeeCents, f.Error(), raw); err != nil {
		s.logger.Error("settlement.session.record_failure_error", "session_id", sess.ID, "error", err)
	}
	if err := s.sessions.SetSplitwiseStatus(ctx, sess.ID, constants.SplitwiseStatusFailed); err != nil {
		s.logger.Error("settlement.session.status_error", "session_id", sess.ID, "error", err)
	}
}

// prepare checks every precondition and builds the payload.
func (s *Service) prepare(ctx context.Context, sess *entity.Session) (splitwise.Payload, *failure) {
	if s.client == nil || !s.client.HasAPIKey() {
		return nil, fail(constants.CodeMissingAPIKey, "SPLITWISE_API_KEY is not configured")
	}
	groupID, err := strconv.ParseInt(strings.TrimSpace(s.cfg.GroupID), 10, 64)
	if err != nil || groupID <= 0 {
		return nil, fail(constants.CodeInvalidGroupID, "SPLITWISE_GROUP_ID %q is not a positive integer", s.cfg.GroupID)
	}
	if sess.TotalFeeCents <= 0 {
		return nil, fail(constants.CodeInvalidTotalFee, "session total fee is not positive; re-ingest or fix the receipts for %s", sess.SessionDate)
	}

	payer, f := s.resolvePayer(ctx, sess)
	if f != nil {
		return nil, f
	}

	joined, err := s.participants.ListBySession(ctx, sess.ID, constants.ParticipantJoined)
	if err != nil {
		return nil, fail(constants.CodeDatabase, "loading participants: %v", err)
	}
	if len(joined) == 0 {
		return nil, fail(constants.CodeMissingParticipants, "no players joined this session")
	}
	ids := make([]int64, 0, len(joined))
	var unmapped []string
	for _, p := range joined {
		if p.Player == nil || p.Player.SplitwiseUserID == nil {
			name := p.PlayerID.String()
			if p.Player != nil {
				name = p.Player.Name
			}
			unmapped = append(unmapped, name)
			continue
		}
		ids = append(ids, *p.Player.SplitwiseUserID)
	}
	if len(unmapped) > 0 {
		return nil, fail(constants.CodeParticipantUnmapped, "set a Splitwise user id for: %s", strings.Join(unmapped, ", "))
	}

	description := "Badminton " + sess.SessionDate
	if sess.Location != "" {
		description += " @ " + sess.Location
	}
	payload, _, err := splitwise.BuildBySharesPayload(splitwise.BySharesRequest{
		CostCents:          sess.TotalFeeCents,
		Description:        description,
		CurrencyCode:       s.cfg.CurrencyCode,
		GroupID:            groupID,
		Date:               sess.SessionDate,
		PayerUserID:        *payer.SplitwiseUserID,
		ParticipantUserIDs: ids,
	})
	if err != nil {
		return nil, fail(constants.CodeMissingParticipants, "%v", err)
	}
	return payload, nil
}

// resolvePayer prefers the session payer and otherwise requires exactly one
// club-wide default payer.
func (s *Service) resolvePayer(ctx context.Context, sess *entity.Session) (*entity.Player, *failure) {
	var payer *entity.Player
	if sess.PayerPlayerID != nil {
		p, err := s.players.GetByID(ctx, *sess.PayerPlayerID)
		if err != nil && !repository.IsNotFound(err) {
			return nil, fail(constants.CodeDatabase, "loading session payer: %v", err)
		}
		payer = p
	}
	if payer == nil {
		defaults, err := s.players.ListDefaultPayers(ctx)
		if err != nil {
			return nil, fail(constants.CodeDatabase, "loading default payer: %v", err)
		}
		switch len(defaults) {
		case 0:
			return nil, fail(constants.CodeMissingPayer, "set a payer on the session or mark one player as default payer")
		case 1:
			payer = defaults[0]
		default:
			return nil, fail(constants.CodeMultipleDefaultPayer, "%d players are marked default payer; keep exactly one", len(defaults))
		}
	}
	if payer.SplitwiseUserID == nil {
		return nil, fail(constants.CodePayerUnmapped, "set a Splitwise user id for payer %s", payer.Name)
	}
	return payer, nil
}
