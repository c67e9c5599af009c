package httpTransport

import (
	"encoding/json"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/komuw/ticketpaxos/protocol"
)

// BuyRequest asks a node to sell TicketCount tickets to ClientID.
type BuyRequest struct {
	TicketCount int
	ClientID    int
}

// ConfigChangeRequest asks a node to add NodeA and NodeB to the membership.
type ConfigChangeRequest struct {
	NodeA protocol.NodeID
	NodeB protocol.NodeID
}

// ShowResponse carries the human readable dump of a node.
type ShowResponse struct {
	Output string
}

// Server exposes a node's peer surface (heartbeat, prepare, accept, inform, get_leader, get_log)
// and its admin surface (buy, cc, show, hb) over HTTP.
type Server struct {
	node   protocol.ProposerAcceptor
	logger hclog.Logger
	mux    *http.ServeMux
}

// NewServer returns a handler serving every URI of this package for node.
func NewServer(node protocol.ProposerAcceptor, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{node: node, logger: logger.Named("http"), mux: http.NewServeMux()}
	s.mux.HandleFunc(HeartbeatURI, s.post(s.heartbeat))
	s.mux.HandleFunc(PrepareURI, s.post(s.prepare))
	s.mux.HandleFunc(AcceptURI, s.post(s.accept))
	s.mux.HandleFunc(InformURI, s.post(s.inform))
	s.mux.HandleFunc(GetLeaderURI, s.post(s.getLeader))
	s.mux.HandleFunc(GetLogURI, s.post(s.getLog))
	s.mux.HandleFunc(BuyURI, s.post(s.buy))
	s.mux.HandleFunc(ConfigChangeURI, s.post(s.configChange))
	s.mux.HandleFunc(ShowURI, s.post(s.show))
	s.mux.HandleFunc(PingURI, s.post(s.ping))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handlerFunc answers a decoded request; it returns the value to encode as the reply.
type handlerFunc func(r *http.Request, dec *json.Decoder) (interface{}, int, error)

// post turns h into an http.HandlerFunc that only accepts POST and replies with JSON.
func (s *Server) post(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if id := r.Header.Get(RequestIDHeader); id != "" {
			s.logger.Debug("admin request", "uri", r.URL.Path, "request_id", id)
		}
		defer r.Body.Close() // nolint: errcheck

		resp, status, err := h(r, json.NewDecoder(r.Body))
		if err != nil {
			s.logger.Debug("request failed", "uri", r.URL.Path, "status", status, "error", err)
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Error("unable to write response", "uri", r.URL.Path, "error", err)
		}
	}
}

func (s *Server) heartbeat(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := HeartbeatRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	ok, err := s.node.Heartbeat(req.From)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return OKResponse{OK: ok}, http.StatusOK, nil
}

func (s *Server) prepare(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := PrepareRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	p, err := s.node.Prepare(req.B)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return p, http.StatusOK, nil
}

func (s *Server) accept(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := AcceptRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	ok, err := s.node.Accept(req.B, req.V)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return OKResponse{OK: ok}, http.StatusOK, nil
}

func (s *Server) inform(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := InformRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if err := s.node.Inform(req.B, req.V); err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return OKResponse{OK: true}, http.StatusOK, nil
}

func (s *Server) getLeader(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	return LeaderResponse{Leader: s.node.LeaderID()}, http.StatusOK, nil
}

func (s *Server) getLog(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := GetLogRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	entries, err := s.node.GetLog(req.FromSlot)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return GetLogResponse{Entries: entries}, http.StatusOK, nil
}

func (s *Server) buy(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := BuyRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if req.TicketCount <= 0 {
		return nil, http.StatusBadRequest, errors.Errorf("invalid ticket count:%v", req.TicketCount)
	}
	s.logger.Info("buy", "tickets", req.TicketCount, "client", req.ClientID)
	return LeaderResponse{Leader: s.node.Buy(r.Context(), req.TicketCount, req.ClientID)}, http.StatusOK, nil
}

func (s *Server) configChange(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	req := ConfigChangeRequest{}
	if err := dec.Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	s.logger.Info("config change", "node_a", int(req.NodeA), "node_b", int(req.NodeB))
	return LeaderResponse{Leader: s.node.ConfigChange(r.Context(), req.NodeA, req.NodeB)}, http.StatusOK, nil
}

func (s *Server) show(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	return ShowResponse{Output: s.node.Show()}, http.StatusOK, nil
}

func (s *Server) ping(r *http.Request, dec *json.Decoder) (interface{}, int, error) {
	return OKResponse{OK: true}, http.StatusOK, nil
}
