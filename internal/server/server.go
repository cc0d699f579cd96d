// Package server exposes the club services over gRPC. Request and response
// bodies are google.protobuf.Struct documents; the ledger export returns
// google.protobuf.BytesValue.
package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/ingest"
	"github.com/joseph-ayodele/club-sessions/internal/roster"
	"github.com/joseph-ayodele/club-sessions/internal/settlement"
)

const ServiceName = "club.v1.ClubService"

type Ingester interface {
	Run(ctx context.Context, query string) (*ingest.Summary, error)
}

type Settler interface {
	Run(ctx context.Context, opts settlement.Options) (*settlement.Summary, error)
}

type Exporter interface {
	ExportLedgerXLSX(ctx context.Context, from, to string) ([]byte, error)
}

// ClubServiceServer is the handler type checked when the service registers.
type ClubServiceServer interface {
	Register(r grpc.ServiceRegistrar)
}

// ClubServer implements club.v1.ClubService.
type ClubServer struct {
	ingest   Ingester
	settle   Settler
	roster   *roster.Service
	exporter Exporter
	logger   *slog.Logger
}

func NewClubServer(ing Ingester, settle Settler, rs *roster.Service, exp Exporter, logger *slog.Logger) *ClubServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClubServer{ingest: ing, settle: settle, roster: rs, exporter: exp, logger: logger}
}

func (s *ClubServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a server with the club service, the standard health
// service and the request logging interceptor.
func NewGRPCServer(club *ClubServer, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	club.Register(gs)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

// method builds a unary MethodDesc that decodes the Struct body into Req,
// validates it and encodes the result.
func method[Req any](name string, call func(s *ClubServer, ctx context.Context, req *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*ClubServer)
			handler := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := decodeStruct(raw.(*structpb.Struct), req); err != nil {
					return nil, common.ToStatus(err)
				}
				if err := common.ValidateStruct(req); err != nil {
					return nil, common.ToStatus(err)
				}
				out, err := call(s, ctx, req)
				if err != nil {
					s.logFailure(ctx, name, err)
					return nil, common.ToStatus(err)
				}
				if m, ok := out.(proto.Message); ok {
					return m, nil
				}
				resp, err := encodeStruct(out)
				if err != nil {
					return nil, common.ToStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func (s *ClubServer) logFailure(ctx context.Context, method string, err error) {
	log := common.LoggerFromContext(ctx, s.logger)
	if roster.IsRejection(err) {
		log.Warn("grpc.request.rejected", "method", method, "code", common.CodeOf(err), "error", err)
		return
	}
	log.Error("grpc.request.failed", "method", method, "error", err)
}

func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil || len(in.GetFields()) == 0 {
		return nil
	}
	b, err := in.MarshalJSON()
	if err != nil {
		return common.NewAppError("INVALID_REQUEST", err.Error(), common.ErrInvalidInput)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return common.NewAppError("INVALID_REQUEST", "malformed request body: "+err.Error(), common.ErrInvalidInput)
	}
	return nil
}

// encodeStruct converts v to a Struct through its JSON form. Non-object
// values are not accepted; list responses are wrapped by the caller.
func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
