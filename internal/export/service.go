package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/money"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
)

const (
	sheet      = "Ledger"
	dateLayout = "2006-01-02"
)

var sgt = time.FixedZone("SGT", 8*60*60)

// Service produces XLSX bytes for the session ledger.
type Service struct {
	sessions     repository.SessionRepository
	players      repository.PlayerRepository
	participants repository.ParticipantRepository
	expenses     repository.ExpenseRepository
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(
	sessions repository.SessionRepository,
	players repository.PlayerRepository,
	participants repository.ParticipantRepository,
	expenses repository.ExpenseRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:     sessions,
		players:      players,
		participants: participants,
		expenses:     expenses,
		logger:       logger,
		now:          time.Now,
	}
}

var headers = []string{
	"Session Date",
	"Status",
	"Location",
	"Time (SGT)",
	"Courts",
	"Total Fee",
	"Players",
	"Guests",
	"Per Head",
	"Payer",
	"Splitwise Status",
	"Splitwise Expense ID",
}

// ExportLedgerXLSX returns one row per session in [from, to], both
// YYYY-MM-DD and inclusive.
// If only from is provided -> from..today (SGT).
// If only to is provided   -> beginning..to.
// If neither is provided   -> every session.
func (s *Service) ExportLedgerXLSX(ctx context.Context, from, to string) ([]byte, error) {
	start := time.Now()
	for name, v := range map[string]string{"from": from, "to": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return nil, common.NewAppError("INVALID_DATE", name+" must be YYYY-MM-DD", common.ErrInvalidInput)
		}
	}
	if from != "" && to == "" {
		to = s.now().In(sgt).Format(dateLayout)
	}
	if from != "" && to != "" && from > to {
		return nil, common.NewAppError("INVALID_DATE", "from must not be after to", common.ErrInvalidInput)
	}

	sessions, err := s.sessions.ListSessions(ctx, repository.SessionFilter{FromDate: from, ToDate: to})
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	ids := make([]uuid.UUID, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	expenses, err := s.expenses.ListBySessionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defaultPayer := s.defaultPayerName(ctx)

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for _, sess := range sessions {
		courts, err := s.sessions.ListCourts(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("query courts for %s: %w", sess.SessionDate, err)
		}
		joined, err := s.participants.ListBySession(ctx, sess.ID, constants.ParticipantJoined)
		if err != nil {
			return nil, fmt.Errorf("query participants for %s: %w", sess.SessionDate, err)
		}

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, sess.SessionDate)
		write(2, string(sess.Status))
		write(3, sess.Location)
		write(4, timeSpan(sess))
		write(5, courtLabels(courts))
		write(6, money.CentsToMoneyString(sess.TotalFeeCents))
		write(7, playerNames(joined))
		write(8, sess.GuestCount)
		write(9, perHead(sess.TotalFeeCents, len(joined)))
		write(10, s.payerName(ctx, sess, defaultPayer))
		write(11, string(sess.SplitwiseStatus))
		if e, ok := expenses[sess.ID]; ok && e.SplitwiseExpenseID != nil {
			write(12, *e.SplitwiseExpenseID)
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "B", 12)
	_ = f.SetColWidth(sheet, "C", "C", 28)
	_ = f.SetColWidth(sheet, "D", "D", 14)
	_ = f.SetColWidth(sheet, "E", "E", 24)
	_ = f.SetColWidth(sheet, "F", "F", 10)
	_ = f.SetColWidth(sheet, "G", "G", 40)
	_ = f.SetColWidth(sheet, "H", "I", 10)
	_ = f.SetColWidth(sheet, "J", "L", 18)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"from", from,
		"to", to,
		"rows", len(sessions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) defaultPayerName(ctx context.Context) string {
	payers, err := s.players.ListDefaultPayers(ctx)
	if err != nil || len(payers) != 1 {
		return ""
	}
	return payers[0].Name
}

func (s *Service) payerName(ctx context.Context, sess *entity.Session, fallback string) string {
	if sess.PayerPlayerID == nil {
		return fallback
	}
	p, err := s.players.GetByID(ctx, *sess.PayerPlayerID)
	if err != nil {
		s.logger.Warn("export.payer.lookup_failed", "session_id", sess.ID, "error", err)
		return ""
	}
	return p.Name
}

func timeSpan(sess *entity.Session) string {
	if sess.StartTime == nil || sess.EndTime == nil {
		return ""
	}
	return sess.StartTime.In(sgt).Format("15:04") + "-" + sess.EndTime.In(sgt).Format("15:04")
}

func courtLabels(courts []*entity.Court) string {
	var labels []string
	seen := map[string]bool{}
	for _, c := range courts {
		if !seen[c.CourtLabel] {
			seen[c.CourtLabel] = true
			labels = append(labels, c.CourtLabel)
		}
	}
	return strings.Join(labels, ", ")
}

func playerNames(parts []*entity.Participant) string {
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Player != nil {
			names = append(names, p.Player.Name)
		}
	}
	return strings.Join(names, ", ")
}

// perHead shows the largest equal share, which differs from the smallest by
// at most one cent.
func perHead(totalCents int64, players int) string {
	if players == 0 || totalCents <= 0 {
		return ""
	}
	ids := make([]int64, players)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	shares, ok := money.ComputeEqualOwedSharesCents(totalCents, ids)
	if !ok {
		return ""
	}
	return money.CentsToMoneyString(shares[0].Cents)
}
