package httpTransport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/komuw/ticketpaxos/protocol"
)

func newServedNode(t *testing.T, id protocol.NodeID, conf *protocol.Config) (*protocol.Node, *httptest.Server) {
	t.Helper()
	n, err := protocol.NewNode(id, protocol.NewInmemStore(), conf)
	if err != nil {
		t.Fatalf("NewNode() error = %v", err)
	}
	srv := httptest.NewServer(NewServer(n, nil))
	t.Cleanup(func() {
		srv.Close()
		n.Close()
	})
	return n, srv
}

func newTransport(t *testing.T, srv *httptest.Server) *HTTPtransport {
	t.Helper()
	ht, err := New(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return ht
}

func TestNew(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{addr: "127.0.0.1:5000", wantHost: "127.0.0.1", wantPort: "5000"},
		{addr: "localhost:80", wantHost: "localhost", wantPort: "80"},
		{addr: "no-port", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			ht, err := New(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("\nNew() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if ht.NodeAddrress != tt.wantHost || ht.NodePort != tt.wantPort {
				t.Errorf("\nNew(%q) \ngot = %v %v, \nwanted = %v %v", tt.addr, ht.NodeAddrress, ht.NodePort, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestHTTPtransport(t *testing.T) {
	ctx := context.Background()
	n, srv := newServedNode(t, 0, nil)
	ht := newTransport(t, srv)
	b := protocol.Ballot{Number: 1, NodeID: 1, Slot: 1}
	v := protocol.NewTicketSale(3, 5)

	p, err := ht.TransportPrepare(ctx, b)
	if err != nil || !p.Valid || p.Ballot != b {
		t.Fatalf("\nTransportPrepare() \ngot = %#+v, %v", p, err)
	}
	if ok, err := ht.TransportAccept(ctx, b, v); err != nil || !ok {
		t.Fatalf("\nTransportAccept() \ngot = %v, %v", ok, err)
	}
	if leader, err := ht.TransportGetLeader(ctx); err != nil || leader != 1 {
		t.Errorf("\nTransportGetLeader() \ngot = %v, %v, \nwanted = %v", leader, err, 1)
	}

	heartbeats := []struct {
		from protocol.NodeID
		want bool
	}{
		{from: 1, want: true},
		{from: 2, want: false},
	}
	for _, tt := range heartbeats {
		if ok, err := ht.TransportHeartbeat(ctx, tt.from); err != nil || ok != tt.want {
			t.Errorf("\nTransportHeartbeat(%d) \ngot = %v, %v, \nwanted = %v", tt.from, ok, err, tt.want)
		}
	}

	if err := ht.TransportInform(ctx, b, v); err != nil {
		t.Fatalf("TransportInform() error = %v", err)
	}
	entries, err := ht.TransportGetLog(ctx, 0)
	if err != nil {
		t.Fatalf("TransportGetLog() error = %v", err)
	}
	want := map[int]protocol.SlotState{1: n.Slot(1)}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("\nTransportGetLog() \ngot = %#+v, \nwanted = %#+v", entries, want)
	}
	if entries, err := ht.TransportGetLog(ctx, 2); err != nil || len(entries) != 0 {
		t.Errorf("\nTransportGetLog(2) \ngot = %#+v, %v", entries, err)
	}
}

func TestHTTPtransportUnreachable(t *testing.T) {
	_, srv := newServedNode(t, 0, nil)
	ht := newTransport(t, srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ht.TransportPrepare(ctx, protocol.Ballot{Number: 1, NodeID: 1, Slot: 1}); err == nil {
		t.Error("TransportPrepare() to a closed server succeeded")
	}
	if leader, err := ht.TransportGetLeader(ctx); err == nil || leader != protocol.Unknown {
		t.Errorf("\nTransportGetLeader() to a closed server \ngot = %v, %v", leader, err)
	}
}

func TestServerErrors(t *testing.T) {
	conf := protocol.DefaultConfig()
	conf.OnFatal = func(error) {}
	n, srv := newServedNode(t, 0, conf)

	tests := []struct {
		name       string
		method     string
		uri        string
		body       string
		wantStatus int
	}{
		{name: "wrong method", method: http.MethodGet, uri: PrepareURI, wantStatus: http.StatusMethodNotAllowed},
		{name: "garbage body", method: http.MethodPost, uri: PrepareURI, body: "not json", wantStatus: http.StatusBadRequest},
		{name: "unknown uri", method: http.MethodPost, uri: "/propose", body: "{}", wantStatus: http.StatusNotFound},
		{name: "get leader", method: http.MethodPost, uri: GetLeaderURI, body: "{}", wantStatus: http.StatusOK},
		{name: "buy no tickets", method: http.MethodPost, uri: BuyURI, body: `{"TicketCount":0,"ClientID":1}`, wantStatus: http.StatusBadRequest},
		{name: "buy negative tickets", method: http.MethodPost, uri: BuyURI, body: `{"TicketCount":-5,"ClientID":1}`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.uri, bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("\n%s %s \ngot = %v, \nwanted = %v", tt.method, tt.uri, resp.StatusCode, tt.wantStatus)
			}
		})
	}

	// a halted node answers peers with an error.
	b := protocol.Ballot{Number: 1, NodeID: 1, Slot: 1}
	n.Inform(b, protocol.NewTicketSale(1, 1))
	n.Inform(protocol.Ballot{Number: 2, NodeID: 2, Slot: 1}, protocol.NewTicketSale(2, 2))
	if !n.Halted() {
		t.Fatal("node did not halt on conflicting informs")
	}
	if _, err := newTransport(t, srv).TransportPrepare(context.Background(), protocol.Ballot{Number: 5, NodeID: 1, Slot: 2}); err == nil {
		t.Error("TransportPrepare() to a halted node succeeded")
	}
}

func TestClusterOverHTTP(t *testing.T) {
	ctx := context.Background()
	nodes := make([]*protocol.Node, 3)
	servers := make([]*httptest.Server, 3)
	for i := range nodes {
		nodes[i], servers[i] = newServedNode(t, protocol.NodeID(i), nil)
	}
	for i, n := range nodes {
		for j := range nodes {
			if i != j {
				n.AddPeer(protocol.NodeID(j), newTransport(t, servers[j]))
			}
		}
	}
	admin := func(i int) *AdminClient {
		return NewAdminClient(strings.TrimPrefix(servers[i].URL, "http://"))
	}

	if err := admin(1).Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	leader, err := admin(0).Buy(ctx, 40, 7)
	if err != nil || leader != 0 {
		t.Fatalf("\nBuy() \ngot = %v, %v, \nwanted = %v", leader, err, 0)
	}
	if leader, err := admin(1).Buy(ctx, 5, 8); err != nil || leader != 0 {
		t.Errorf("\nBuy() on a follower \ngot = %v, %v, \nwanted = %v", leader, err, 0)
	}
	if leader, err := admin(0).ConfigChange(ctx, 3, 4); err != nil || leader != 0 {
		t.Errorf("\nConfigChange() \ngot = %v, %v, \nwanted = %v", leader, err, 0)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, i := range []int{0, 1, 2} {
		for {
			out, err := admin(i).Show(ctx)
			if err != nil {
				t.Fatalf("Show() error = %v", err)
			}
			if strings.Contains(out, "Sold Tickets: 40\n") && strings.Contains(out, "Log 2 : cc(3, 4)") {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("node %d did not learn the log:\n%s", i, out)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
