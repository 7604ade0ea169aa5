package transport

import (
	"context"
	"fmt"

	"github.com/pixperk/printmesh/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// PrinterClient talks to the shared print service. It satisfies
// mutex.PrintCaller.
type PrinterClient struct {
	addr string
	conn *grpc.ClientConn
}

func DialPrinter(addr string) (*PrinterClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to printer at %s: %w", addr, err)
	}
	return &PrinterClient{addr: addr, conn: conn}, nil
}

func (c *PrinterClient) SendToPrinter(ctx context.Context, req types.PrintRequest) (types.PrintResponse, error) {
	in, err := encodeMessage(req)
	if err != nil {
		return types.PrintResponse{}, fmt.Errorf("encode print request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSendToPrinter, in, out); err != nil {
		return types.PrintResponse{}, err
	}
	var resp types.PrintResponse
	if err := decodeMessage(out, &resp); err != nil {
		return types.PrintResponse{}, fmt.Errorf("decode print response: %w", err)
	}
	return resp, nil
}

func (c *PrinterClient) Close() error {
	return c.conn.Close()
}
