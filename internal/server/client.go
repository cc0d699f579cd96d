package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/club-sessions/internal/common"
)

// Client calls ClubService methods over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with body and returns the response as JSON.
func (c *Client) Call(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	in, err := structpb.NewStruct(body)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(outgoing(ctx), "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.MarshalJSON()
}

// ExportLedger returns the XLSX workbook bytes.
func (c *Client) ExportLedger(ctx context.Context, from, to string) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(outgoing(ctx), "/"+ServiceName+"/ExportLedger", in, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// outgoing forwards a request id stored with common.WithRequestID.
func outgoing(ctx context.Context) context.Context {
	if id := common.RequestIDFromContext(ctx); id != "" {
		return metadata.AppendToOutgoingContext(ctx, requestIDHeader, id)
	}
	return ctx
}
