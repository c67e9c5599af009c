/*
Package httpTransport provides an implementation of protocol's Transport interface.
This implementation uses net/http and JSON to communicate between different protocol Nodes.

It also carries the server side, which exposes a node's peer and admin surfaces,
and an admin client for the interactive ticket client.
*/
package httpTransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/komuw/ticketpaxos/protocol"
)

// URIs served by Server.
const (
	HeartbeatURI    = "/heartbeat"
	PrepareURI      = "/prepare"
	AcceptURI       = "/accept"
	InformURI       = "/inform"
	GetLeaderURI    = "/get_leader"
	GetLogURI       = "/get_log"
	BuyURI          = "/buy"
	ConfigChangeURI = "/cc"
	ShowURI         = "/show"
	PingURI         = "/hb"
)

// RequestIDHeader carries the id an admin client gives each of its requests.
const RequestIDHeader = "X-Request-Id"

// clientTimeout bounds a request whose context has no deadline.
const clientTimeout = 3 * time.Second

// HTTPtransport provides a http based transport that can be
// used to communicate with a protocol.Node on a remote machine.
type HTTPtransport struct {
	NodeAddrress string
	NodePort     string

	client *http.Client
}

// New returns a transport to the node listening on addr, a "host:port" pair.
func New(addr string) (*HTTPtransport, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid node address:%v", addr)
	}
	return &HTTPtransport{
		NodeAddrress: host,
		NodePort:     port,
		client:       &http.Client{Timeout: clientTimeout},
	}, nil
}

func (ht *HTTPtransport) url(uri string) string {
	return "http://" + net.JoinHostPort(ht.NodeAddrress, ht.NodePort) + uri
}

func (ht *HTTPtransport) httpClient() *http.Client {
	if ht.client == nil {
		return http.DefaultClient
	}
	return ht.client
}

// HeartbeatRequest is the request sent by a leader to keep its followers.
type HeartbeatRequest struct {
	From protocol.NodeID
}

// OKResponse is the reply of every yes/no call.
type OKResponse struct {
	OK bool
}

// PrepareRequest is the request sent during prepare phase
// specifically for the HTTPtransport
type PrepareRequest struct {
	B protocol.Ballot
}

// AcceptRequest is the request sent during accept phase
// specifically for the HTTPtransport
type AcceptRequest struct {
	B protocol.Ballot
	V protocol.Value
}

// InformRequest announces that B.Slot was decided with V.
type InformRequest struct {
	B protocol.Ballot
	V protocol.Value
}

// LeaderResponse names a leader, or protocol.Unknown.
type LeaderResponse struct {
	Leader protocol.NodeID
}

// GetLogRequest asks for the committed slots at or after FromSlot.
type GetLogRequest struct {
	FromSlot int
}

// GetLogResponse carries committed slots keyed by slot.
type GetLogResponse struct {
	Entries map[int]protocol.SlotState
}

// TransportHeartbeat implements the Transport interface.
func (ht *HTTPtransport) TransportHeartbeat(ctx context.Context, from protocol.NodeID) (bool, error) {
	resp := OKResponse{}
	err := postJSON(ctx, ht.httpClient(), ht.url(HeartbeatURI), HeartbeatRequest{From: from}, &resp, nil)
	return resp.OK, err
}

// TransportPrepare implements the Transport interface.
func (ht *HTTPtransport) TransportPrepare(ctx context.Context, b protocol.Ballot) (protocol.Promise, error) {
	promise := protocol.Promise{}
	err := postJSON(ctx, ht.httpClient(), ht.url(PrepareURI), PrepareRequest{B: b}, &promise, nil)
	return promise, err
}

// TransportAccept implements the Transport interface.
func (ht *HTTPtransport) TransportAccept(ctx context.Context, b protocol.Ballot, v protocol.Value) (bool, error) {
	resp := OKResponse{}
	err := postJSON(ctx, ht.httpClient(), ht.url(AcceptURI), AcceptRequest{B: b, V: v}, &resp, nil)
	return resp.OK, err
}

// TransportInform implements the Transport interface.
func (ht *HTTPtransport) TransportInform(ctx context.Context, b protocol.Ballot, v protocol.Value) error {
	return postJSON(ctx, ht.httpClient(), ht.url(InformURI), InformRequest{B: b, V: v}, nil, nil)
}

// TransportGetLeader implements the Transport interface.
func (ht *HTTPtransport) TransportGetLeader(ctx context.Context) (protocol.NodeID, error) {
	resp := LeaderResponse{Leader: protocol.Unknown}
	if err := postJSON(ctx, ht.httpClient(), ht.url(GetLeaderURI), struct{}{}, &resp, nil); err != nil {
		return protocol.Unknown, err
	}
	return resp.Leader, nil
}

// TransportGetLog implements the Transport interface.
func (ht *HTTPtransport) TransportGetLog(ctx context.Context, fromSlot int) (map[int]protocol.SlotState, error) {
	resp := GetLogResponse{}
	if err := postJSON(ctx, ht.httpClient(), ht.url(GetLogURI), GetLogRequest{FromSlot: fromSlot}, &resp, nil); err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		resp.Entries = map[int]protocol.SlotState{}
	}
	return resp.Entries, nil
}

// postJSON sends in as a JSON body to url and decodes the reply into out, if out is not nil.
func postJSON(ctx context.Context, client *http.Client, url string, in, out interface{}, header http.Header) error {
	reqJSON, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "unable to encode request to url:%v", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqJSON))
	if err != nil {
		return errors.Wrapf(err, "unable to build request to url:%v", url)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to url:%v failed", url)
	}
	defer resp.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "unable to read response from url:%v", url)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("url:%v returned http status:%v instead of status:%v: %s",
			url, resp.StatusCode, http.StatusOK, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "unable to decode response from url:%v", url)
	}
	return nil
}

var _ protocol.Transport = (*HTTPtransport)(nil)
