package httpTransport

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/komuw/ticketpaxos/protocol"
)

// AdminClient talks to the admin surface of one node.
// Every request carries a fresh id in RequestIDHeader so that it can be found in the node's logs.
type AdminClient struct {
	Addr string

	client *http.Client
}

// NewAdminClient returns a client for the node listening on addr, a "host:port" pair.
func NewAdminClient(addr string) *AdminClient {
	return &AdminClient{Addr: addr, client: &http.Client{Timeout: clientTimeout}}
}

func (ac *AdminClient) call(ctx context.Context, uri string, in, out interface{}) error {
	header := http.Header{}
	header.Set(RequestIDHeader, uuid.New().String())
	return postJSON(ctx, ac.client, "http://"+ac.Addr+uri, in, out, header)
}

// Buy asks the node to sell count tickets to clientID. It returns the leader to talk to next.
func (ac *AdminClient) Buy(ctx context.Context, count, clientID int) (protocol.NodeID, error) {
	resp := LeaderResponse{Leader: protocol.Unknown}
	if err := ac.call(ctx, BuyURI, BuyRequest{TicketCount: count, ClientID: clientID}, &resp); err != nil {
		return protocol.Unknown, err
	}
	return resp.Leader, nil
}

// ConfigChange asks the node to add nodes a and b. It returns the leader to talk to next.
func (ac *AdminClient) ConfigChange(ctx context.Context, a, b protocol.NodeID) (protocol.NodeID, error) {
	resp := LeaderResponse{Leader: protocol.Unknown}
	if err := ac.call(ctx, ConfigChangeURI, ConfigChangeRequest{NodeA: a, NodeB: b}, &resp); err != nil {
		return protocol.Unknown, err
	}
	return resp.Leader, nil
}

// Show returns the node's dump of its leader, sold tickets and committed log.
func (ac *AdminClient) Show(ctx context.Context) (string, error) {
	resp := ShowResponse{}
	if err := ac.call(ctx, ShowURI, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}

// Ping checks that the node is up.
func (ac *AdminClient) Ping(ctx context.Context) error {
	return ac.call(ctx, PingURI, struct{}{}, nil)
}
