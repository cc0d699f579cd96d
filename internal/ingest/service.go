// Package ingest turns booking confirmation emails into receipts and
// reconciled sessions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/gmail"
	"github.com/joseph-ayodele/club-sessions/internal/receiptparse"
	"github.com/joseph-ayodele/club-sessions/internal/reconcile"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
)

// MailProvider searches and fetches messages.
type MailProvider interface {
	Search(ctx context.Context, query string, max int) ([]string, error)
	Fetch(ctx context.Context, id string) (*gmail.Message, error)
}

type Config struct {
	SubjectKeywords []string
	LookbackDays    int
	MaxResults      int
	Timezone        string
}

// Summary is the outcome of one ingestion run.
type Summary struct {
	OK          bool   `json:"ok"`
	Query       string `json:"query"`
	Total       int    `json:"total"`
	Ingested    int    `json:"ingested"`
	Deduped     int    `json:"deduped"`
	ParseFailed int    `json:"parse_failed"`
	FetchFailed int    `json:"fetch_failed"`
}

// Outcome is the result of ingesting one message.
type Outcome struct {
	OK          bool                  `json:"ok"`
	MessageID   string                `json:"message_id"`
	Deduped     bool                  `json:"deduped"`
	ParseStatus constants.ParseStatus `json:"parse_status,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	SessionDate string                `json:"session_date,omitempty"`
	SessionID   string                `json:"session_id,omitempty"`
}

// CapacityRefresher re-derives OPEN/FULL for a session after its courts change.
type CapacityRefresher interface {
	Refresh(ctx context.Context, sessionID uuid.UUID) (*entity.Session, error)
}

type Service struct {
	provider MailProvider
	receipts repository.ReceiptRepository
	sessions repository.SessionRepository
	capacity CapacityRefresher
	cfg      Config
	tracer   trace.Tracer
	logger   *slog.Logger
}

// SetCapacityRefresher makes Reconcile re-check capacity after saving courts.
func (s *Service) SetCapacityRefresher(r CapacityRefresher) { s.capacity = r }

func NewService(
	provider MailProvider,
	receipts repository.ReceiptRepository,
	sessions repository.SessionRepository,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	if cfg.Timezone == "" {
		cfg.Timezone = constants.SupportedTimezone
	}
	if len(cfg.SubjectKeywords) == 0 {
		cfg.SubjectKeywords = []string{"Booking Confirmation"}
	}
	return &Service{
		provider: provider,
		receipts: receipts,
		sessions: sessions,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/joseph-ayodele/club-sessions/internal/ingest"),
		logger:   logger,
	}
}

// BuildQuery renders the provider search query, e.g.
// newer_than:7d subject:"Booking Confirmation".
func BuildQuery(keywords []string, lookbackDays int) string {
	parts := []string{fmt.Sprintf("newer_than:%dd", lookbackDays)}
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ReplaceAll(kw, `"`, ""))
		if kw != "" {
			parts = append(parts, `subject:"`+kw+`"`)
		}
	}
	return strings.Join(parts, " ")
}

// Run searches the provider and ingests every hit sequentially. An empty
// query uses the configured default.
func (s *Service) Run(ctx context.Context, query string) (*Summary, error) {
	if strings.TrimSpace(query) == "" {
		query = BuildQuery(s.cfg.SubjectKeywords, s.cfg.LookbackDays)
	}
	ctx, span := s.tracer.Start(ctx, "ingest.run", trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	summary := &Summary{OK: true, Query: query}
	s.logger.Info("ingest.start", "query", query, "max_results", s.cfg.MaxResults)

	ids, err := s.provider.Search(ctx, query, s.cfg.MaxResults)
	if err != nil {
		summary.OK = false
		s.logger.Error("ingest.search.error", "query", query, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("searching mail: %w", err)
	}
	summary.Total = len(ids)

	for _, id := range ids {
		out, err := s.IngestMessageID(ctx, id)
		switch {
		case err != nil:
			summary.FetchFailed++
		case out.Deduped:
			summary.Deduped++
		case out.ParseStatus == constants.ParseStatusFailed:
			summary.ParseFailed++
		default:
			summary.Ingested++
		}
	}

	span.SetAttributes(
		attribute.Int("total", summary.Total),
		attribute.Int("ingested", summary.Ingested),
		attribute.Int("parse_failed", summary.ParseFailed),
	)
	s.logger.Info("ingest.done",
		"total", summary.Total,
		"ingested", summary.Ingested,
		"deduped", summary.Deduped,
		"parse_failed", summary.ParseFailed,
		"fetch_failed", summary.FetchFailed,
	)
	return summary, nil
}

// IngestMessageID dedups on the message id before fetching. A returned error
// means the message could not be fetched or stored; parse problems are
// reported in the outcome.
func (s *Service) IngestMessageID(ctx context.Context, id string) (*Outcome, error) {
	exists, err := s.receipts.ExistsByMessageID(ctx, id)
	if err != nil {
		s.logger.Error("ingest.message.dedup_error", "message_id", id, "error", err)
		return nil, err
	}
	if exists {
		s.logger.Debug("ingest.message.deduped", "message_id", id)
		return &Outcome{OK: true, MessageID: id, Deduped: true}, nil
	}

	msg, err := s.provider.Fetch(ctx, id)
	if err != nil {
		s.logger.Error("ingest.message.fetch_error", "message_id", id, "error", err)
		return nil, err
	}
	return s.IngestMessage(ctx, msg)
}

// IngestMessage parses and stores one fetched message.
func (s *Service) IngestMessage(ctx context.Context, msg *gmail.Message) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.message", trace.WithAttributes(attribute.String("message_id", msg.ID)))
	defer span.End()
	log := s.logger.With("message_id", msg.ID)

	raw := receiptparse.BuildParseableRaw(msg.HTML, msg.Text)
	rec := &entity.EmailReceipt{
		GmailMessageID: msg.ID,
		ReceivedAt:     msg.ReceivedAt,
		RawBody:        raw,
	}

	parsed, err := receiptparse.Parse(msg.HTML, msg.Text, s.cfg.Timezone)
	if err != nil {
		var pe *receiptparse.ParseError
		if !errors.As(err, &pe) {
			span.RecordError(err)
			return nil, err
		}
		log.Warn("ingest.message.parse_failed", "reason", pe.Reason, "session_date", pe.SessionDate)
		span.SetAttributes(attribute.String("parse_error", string(pe.Reason)))
		return s.recordFailure(ctx, rec, pe.Reason, pe.SessionDate, false)
	}

	date := parsed.SessionDate
	fee := parsed.TotalFeeString()
	rec.ParsedSessionDate = &date
	rec.ParsedTotalFee = &fee
	rec.ParsedLocation = &parsed.Location
	rec.ParsedCourts = parsed.Slots()

	conflict, err := s.conflictsWithStored(ctx, date, parsed.Location)
	if err != nil {
		return nil, err
	}
	if conflict {
		log.Warn("ingest.message.location_conflict", "session_date", date, "location", parsed.Location)
		return s.recordFailure(ctx, rec, constants.ReasonLocationConflict, date, true)
	}

	rec.ParseStatus = constants.ParseStatusSuccess
	created, err := s.receipts.Create(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !created {
		return &Outcome{OK: true, MessageID: msg.ID, Deduped: true}, nil
	}

	sess, err := s.Reconcile(ctx, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	log.Info("ingest.message.parsed", "session_date", date, "status", sess.Status, "total_fee_cents", sess.TotalFeeCents)
	return &Outcome{
		OK:          true,
		MessageID:   msg.ID,
		ParseStatus: constants.ParseStatusSuccess,
		SessionDate: date,
		SessionID:   sess.ID.String(),
	}, nil
}

// recordFailure stores a FAILED receipt and flags the date for review.
// Conflicts move the session back to DRAFT; plain parse failures only create
// a DRAFT session when none exists.
func (s *Service) recordFailure(ctx context.Context, rec *entity.EmailReceipt, reason constants.ParseReason, date string, conflict bool) (*Outcome, error) {
	r := string(reason)
	rec.ParseStatus = constants.ParseStatusFailed
	rec.ParseError = &r
	if date != "" {
		rec.ParsedSessionDate = &date
	}
	created, err := s.receipts.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return &Outcome{OK: true, MessageID: rec.GmailMessageID, Deduped: true}, nil
	}

	out := &Outcome{OK: true, MessageID: rec.GmailMessageID, ParseStatus: constants.ParseStatusFailed, Reason: r, SessionDate: date}
	if date == "" {
		return out, nil
	}
	var sess *entity.Session
	if conflict {
		sess, err = s.sessions.MarkDraft(ctx, date)
	} else {
		sess, err = s.sessions.EnsureDraft(ctx, date)
	}
	if err != nil {
		return nil, err
	}
	out.SessionID = sess.ID.String()
	return out, nil
}

func (s *Service) conflictsWithStored(ctx context.Context, date, location string) (bool, error) {
	stored, err := s.receipts.ListSuccessfulByDate(ctx, date)
	if err != nil {
		return false, err
	}
	want := strings.ToLower(strings.TrimSpace(location))
	for _, r := range stored {
		if r.ParsedLocation == nil {
			continue
		}
		got := strings.ToLower(strings.TrimSpace(*r.ParsedLocation))
		if got != "" && got != want {
			return true, nil
		}
	}
	return false, nil
}

// Reconcile recomputes the aggregate for date from every stored SUCCESS
// receipt and upserts the session. CLOSED sessions stay CLOSED. FULL is kept
// while saving and then re-checked against the new court list, so added
// courts can reopen the session. An empty or conflicting aggregate leaves
// the date in DRAFT.
func (s *Service) Reconcile(ctx context.Context, date string) (*entity.Session, error) {
	stored, err := s.receipts.ListSuccessfulByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	inputs := make([]reconcile.Input, len(stored))
	for i, r := range stored {
		inputs[i] = reconcile.FromReceipt(r)
	}
	agg := reconcile.Build(date, inputs)
	if agg == nil {
		s.logger.Warn("ingest.reconcile.no_aggregate", "session_date", date, "receipts", len(stored))
		return s.sessions.MarkDraft(ctx, date)
	}

	status := constants.SessionStatusOpen
	existing, err := s.sessions.GetByDate(ctx, date)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && (existing.Status == constants.SessionStatusClosed || existing.Status == constants.SessionStatusFull) {
		status = existing.Status
	}

	courts := make([]entity.Court, len(agg.Courts))
	for i, c := range agg.Courts {
		courts[i] = entity.Court{CourtLabel: c.CourtLabel, StartTime: c.StartTime, EndTime: c.EndTime}
	}
	saved, err := s.sessions.SaveAggregate(ctx, &repository.SaveAggregateRequest{
		SessionDate:   date,
		Status:        status,
		StartTime:     agg.StartTime,
		EndTime:       agg.EndTime,
		TotalFeeCents: agg.TotalFeeCents,
		Location:      agg.Location,
		Courts:        courts,
	})
	if err != nil || s.capacity == nil || saved.Status == constants.SessionStatusClosed {
		return saved, err
	}
	refreshed, err := s.capacity.Refresh(ctx, saved.ID)
	if err != nil {
		s.logger.Error("ingest.reconcile.capacity_error", "session_date", date, "error", err)
		return saved, nil
	}
	return refreshed, nil
}
