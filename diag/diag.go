// Package diag exposes a minimal HTTP introspection surface over a running
// engine.Engine: negotiated sizes, retry counters, session state, and the
// last APDU exchanged, for the forensic/monitor use spec.md §4.K calls out.
// It is optional tooling wired by cmd/c12client, not part of the core call
// graph an engine_test.go scenario exercises, built the way the teacher
// exposes its own status/analytics routes through mux.Router subrouters.
package diag

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/engine"
)

// Server wraps the mux.Router wired to one engine.Engine.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
}

type stateResponse struct {
	IsInSession           bool   `json:"is_in_session"`
	IsConnected           bool   `json:"is_connected"`
	NegotiatedMaxApduIn   uint32 `json:"negotiated_max_apdu_in"`
	NegotiatedMaxApduOut  uint32 `json:"negotiated_max_apdu_out"`
	EffectiveMaxApduIn    uint32 `json:"effective_max_apdu_in"`
	EffectiveMaxApduOut   uint32 `json:"effective_max_apdu_out"`
	LinkSuccess          int    `json:"link_success"`
	LinkRetry            int    `json:"link_retry"`
	LinkFail             int    `json:"link_fail"`
	AppSuccess           int    `json:"app_success"`
	AppRetry             int    `json:"app_retry"`
	AppFail              int    `json:"app_fail"`
	ProcedureRetry       int    `json:"procedure_retry"`
}

type apdusResponse struct {
	Outgoing string `json:"outgoing_hex"`
	Incoming string `json:"incoming_hex"`
}

// NewServer builds an *http.Server serving /state and /apdus/last over eng.
// Callers choose the listen address and call ListenAndServe themselves,
// mirroring the teacher's Server.Run pattern of owning the http.Server but
// not its own process lifecycle.
func NewServer(eng *engine.Engine, addr string) *http.Server {
	s := &Server{eng: eng, router: mux.NewRouter()}
	s.setupRoutes()
	return &http.Server{Addr: addr, Handler: s.router}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/state", s.handleState).Methods("GET")
	s.router.HandleFunc("/apdus/last", s.handleLastAPDUs).Methods("GET")
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	negIn, negOut, effIn, effOut := s.eng.NegotiatedSizes()
	c := s.eng.Counters()

	resp := stateResponse{
		IsInSession:          s.eng.IsInSession(),
		IsConnected:          s.eng.IsConnected(),
		NegotiatedMaxApduIn:  negIn,
		NegotiatedMaxApduOut: negOut,
		EffectiveMaxApduIn:   effIn,
		EffectiveMaxApduOut:  effOut,
		LinkSuccess:          c.LinkSuccess,
		LinkRetry:            c.LinkRetry,
		LinkFail:             c.LinkFail,
		AppSuccess:           c.AppSuccess,
		AppRetry:             c.AppRetry,
		AppFail:              c.AppFail,
		ProcedureRetry:       c.ProcedureRetry,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleLastAPDUs(w http.ResponseWriter, r *http.Request) {
	outgoing, incoming := s.eng.LastAPDUs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apdusResponse{
		Outgoing: hex.EncodeToString(outgoing),
		Incoming: hex.EncodeToString(incoming),
	})
}
