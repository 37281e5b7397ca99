package rpc

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nanoncore/fcr/dispatcher"
	"github.com/nanoncore/fcr/session"
)

// PeerClient implements dispatcher.PeerCaller by dialing other FCR
// instances over gRPC with the JSON codec and invoking BulkRunLocal on
// them; it's how the dispatcher forwards lb_threshold chunks to peers.
type PeerClient struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewPeerClient builds an empty PeerClient; connections to peers are
// established lazily on first use and cached.
func NewPeerClient() *PeerClient {
	return &PeerClient{conns: make(map[string]*grpc.ClientConn)}
}

func (c *PeerClient) connFor(peer string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[peer]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(peer,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec)),
	)
	if err != nil {
		return nil, err
	}
	c.conns[peer] = conn
	return conn, nil
}

// BulkRunLocal forwards req to peer's bulk_run_local RPC and translates
// the wire response back into a dispatcher.BulkRunResponse.
func (c *PeerClient) BulkRunLocal(ctx context.Context, peer string, req dispatcher.BulkRunRequest) (dispatcher.BulkRunResponse, error) {
	conn, err := c.connFor(peer)
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceRequest, 0, len(req.Commands))
	for hostname := range req.Commands {
		dr := DeviceRequest{Hostname: hostname}
		if rec, ok := req.Records[hostname]; ok && rec != nil {
			dr.Username = rec.Username
			dr.Password = rec.Password
			dr.Vendor = rec.Vendor
			dr.IPAddress = rec.IPAddress
			dr.MgmtIP = rec.MgmtIP
			dr.CommandPrompts = rec.CommandPrompts
		}
		devices = append(devices, dr)
	}

	wireReq := &BulkRunRequest{
		Devices:       devices,
		Commands:      req.Commands,
		TimeoutMS:     req.Timeout.Milliseconds(),
		OpenTimeoutMS: req.OpenTimeout.Milliseconds(),
		UUID:          req.UUID,
	}

	wireResp := new(BulkRunResponse)
	if err := conn.Invoke(ctx, "/fcr.FleetCommandRunner/BulkRunLocal", wireReq, wireResp); err != nil {
		return nil, err
	}

	out := make(dispatcher.BulkRunResponse, len(wireResp.Results))
	for hostname, results := range wireResp.Results {
		converted := make([]session.CommandResult, len(results))
		for i, r := range results {
			converted[i] = session.CommandResult{
				Output:       r.Output,
				Status:       r.Status,
				Command:      r.Command,
				Capabilities: r.Capabilities,
				UUID:         r.UUID,
			}
		}
		out[hostname] = converted
	}
	return out, nil
}

// Close tears down every cached peer connection.
func (c *PeerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
