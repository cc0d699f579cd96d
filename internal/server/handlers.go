package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/roster"
	"github.com/joseph-ayodele/club-sessions/internal/settlement"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClubServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		method("IngestMail", (*ClubServer).ingestMail),
		method("SettleSessions", (*ClubServer).settleSessions),
		method("ListSessions", (*ClubServer).listSessions),
		method("GetSession", (*ClubServer).getSession),
		method("CloseSession", (*ClubServer).closeSession),
		method("JoinSession", (*ClubServer).joinSession),
		method("WithdrawSession", (*ClubServer).withdrawSession),
		method("SetGuestCount", (*ClubServer).setGuestCount),
		method("SetSessionPayer", (*ClubServer).setSessionPayer),
		method("CreatePlayer", (*ClubServer).createPlayer),
		method("ListPlayers", (*ClubServer).listPlayers),
		method("SetDefaultPayer", (*ClubServer).setDefaultPayer),
		method("SetSplitwiseUser", (*ClubServer).setSplitwiseUser),
		method("ListReceipts", (*ClubServer).listReceipts),
		method("ExportLedger", (*ClubServer).exportLedger),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "club/v1/club.proto",
}

type ingestRequest struct {
	Query string `json:"query"`
}

type settleRequest struct {
	DryRun bool `json:"dry_run"`
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type rosterRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	PlayerID  string `json:"player_id" validate:"required"`
}

type guestCountRequest struct {
	SessionID  string `json:"session_id" validate:"required"`
	GuestCount int    `json:"guest_count" validate:"gte=0"`
}

type sessionPayerRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	// PlayerID empty clears the override.
	PlayerID string `json:"player_id"`
}

type createPlayerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	SplitwiseUserID int64  `json:"splitwise_user_id"`
}

type playerRequest struct {
	PlayerID string `json:"player_id" validate:"required"`
}

type splitwiseUserRequest struct {
	PlayerID        string `json:"player_id" validate:"required"`
	SplitwiseUserID *int64 `json:"splitwise_user_id"`
}

type receiptsRequest struct {
	SessionDate string `json:"session_date"`
	Limit       int    `json:"limit" validate:"gte=0"`
}

type exportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type emptyRequest struct{}

func (s *ClubServer) ingestMail(ctx context.Context, req *ingestRequest) (any, error) {
	if s.ingest == nil {
		return nil, common.NewAppError("INGEST_DISABLED", "no mail provider configured", common.ErrFailedPrecondition)
	}
	return s.ingest.Run(ctx, req.Query)
}

func (s *ClubServer) settleSessions(ctx context.Context, req *settleRequest) (any, error) {
	return s.settle.Run(ctx, settlement.Options{DryRun: req.DryRun})
}

func (s *ClubServer) listSessions(ctx context.Context, req *roster.ListSessionsRequest) (any, error) {
	list, err := s.roster.ListSessions(ctx, *req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": list}, nil
}

func (s *ClubServer) getSession(ctx context.Context, req *sessionRequest) (any, error) {
	id, err := common.ParseUUID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.roster.GetSession(ctx, id)
}

func (s *ClubServer) closeSession(ctx context.Context, req *sessionRequest) (any, error) {
	id, err := common.ParseUUID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.roster.CloseSession(ctx, id)
}

func parseRoster(req *rosterRequest) (uuid.UUID, uuid.UUID, error) {
	sid, err := common.ParseUUID("session_id", req.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	pid, err := common.ParseUUID("player_id", req.PlayerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return sid, pid, nil
}

func (s *ClubServer) joinSession(ctx context.Context, req *rosterRequest) (any, error) {
	sid, pid, err := parseRoster(req)
	if err != nil {
		return nil, err
	}
	return s.roster.Join(ctx, sid, pid)
}

func (s *ClubServer) withdrawSession(ctx context.Context, req *rosterRequest) (any, error) {
	sid, pid, err := parseRoster(req)
	if err != nil {
		return nil, err
	}
	return s.roster.Withdraw(ctx, sid, pid)
}

func (s *ClubServer) setGuestCount(ctx context.Context, req *guestCountRequest) (any, error) {
	id, err := common.ParseUUID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.roster.SetGuestCount(ctx, id, req.GuestCount)
}

func (s *ClubServer) setSessionPayer(ctx context.Context, req *sessionPayerRequest) (any, error) {
	id, err := common.ParseUUID("session_id", req.SessionID)
	if err != nil {
		return nil, err
	}
	var payer *uuid.UUID
	if req.PlayerID != "" {
		pid, err := common.ParseUUID("player_id", req.PlayerID)
		if err != nil {
			return nil, err
		}
		payer = &pid
	}
	return s.roster.SetSessionPayer(ctx, id, payer)
}

func (s *ClubServer) createPlayer(ctx context.Context, req *createPlayerRequest) (any, error) {
	return s.roster.CreatePlayer(ctx, roster.CreatePlayerRequest{
		Name:            req.Name,
		Email:           req.Email,
		SplitwiseUserID: req.SplitwiseUserID,
	})
}

func (s *ClubServer) listPlayers(ctx context.Context, _ *emptyRequest) (any, error) {
	list, err := s.roster.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"players": list}, nil
}

func (s *ClubServer) setDefaultPayer(ctx context.Context, req *playerRequest) (any, error) {
	id, err := common.ParseUUID("player_id", req.PlayerID)
	if err != nil {
		return nil, err
	}
	return s.roster.SetDefaultPayer(ctx, id)
}

func (s *ClubServer) setSplitwiseUser(ctx context.Context, req *splitwiseUserRequest) (any, error) {
	id, err := common.ParseUUID("player_id", req.PlayerID)
	if err != nil {
		return nil, err
	}
	return s.roster.SetSplitwiseUserID(ctx, id, req.SplitwiseUserID)
}

func (s *ClubServer) listReceipts(ctx context.Context, req *receiptsRequest) (any, error) {
	list, err := s.roster.ListReceipts(ctx, req.SessionDate, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"receipts": list}, nil
}

func (s *ClubServer) exportLedger(ctx context.Context, req *exportRequest) (any, error) {
	b, err := s.exporter.ExportLedgerXLSX(ctx, req.From, req.To)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(b), nil
}
