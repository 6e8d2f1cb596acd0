package collective

import (
	"context"
	"fmt"
	"net"

	"github.com/hpc/Spindle/pkg/logutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client reaches the coordinator hub on rank 0.
type Client struct {
	conn  *grpc.ClientConn
	runID string
	size  int
}

func NewGrpcClient(address, runID string, size int) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.WaitForReady(true),
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize)))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, runID: runID, size: size}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return fromStatus(c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out))
}

// Arrive joins the group for sequence 0 and waits at a barrier otherwise.
func (c *Client) Arrive(ctx context.Context, seq uint64, rank int) error {
	if seq == 0 {
		return c.invoke(ctx, "Join", &JoinRequest{RunID: c.runID, Rank: rank, Size: c.size}, &Ack{})
	}
	return c.invoke(ctx, "Barrier", &ArriveRequest{Seq: seq, Rank: rank}, &Ack{})
}

func (c *Client) Contribute(ctx context.Context, seq uint64, root int, in Contribution) error {
	return c.invoke(ctx, "Contribute", &ContributeRequest{Seq: seq, Root: root, Contribution: in}, &Ack{})
}

func (c *Client) Result(ctx context.Context, seq uint64) (Contribution, error) {
	var out Contribution
	err := c.invoke(ctx, "Result", &ResultRequest{Seq: seq}, &out)
	return out, err
}

// NewGrpcRoot serves the hub on lis and joins rank 0 to the group. It returns
// once every rank has joined.
func NewGrpcRoot(ctx context.Context, lis net.Listener, runID string, size int) (*Comm, error) {
	logger := logutil.GetLogger()

	hub := NewHub(size)
	srv := NewServer(hub, runID)
	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.Error("coordinator stopped", zap.Error(err))
		}
	}()
	logger.Info("coordinator listening", zap.String("address", lis.Addr().String()), zap.Int("size", size))

	comm := newComm(hub, 0, size, func() error {
		srv.Stop()
		return nil
	})
	if err := comm.join(ctx); err != nil {
		srv.Stop()
		return nil, fmt.Errorf("collective: waiting for ranks to join: %w", err)
	}
	return comm, nil
}

// NewGrpcRank dials the coordinator at address and joins as rank.
func NewGrpcRank(ctx context.Context, address, runID string, rank, size int) (*Comm, error) {
	client, err := NewGrpcClient(address, runID, size)
	if err != nil {
		return nil, err
	}
	comm := newComm(client, rank, size, client.Close)
	if err := comm.join(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("collective: joining %s: %w", address, err)
	}
	return comm, nil
}
