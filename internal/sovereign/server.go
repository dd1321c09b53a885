package sovereign

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// GovernorControl is the subset of governor behavior the sovereign
// surface drives. The governor implements this directly; tests use a
// fake.
type GovernorControl interface {
	ForceRatchet(level domain.RatchetLevel)
	ClearRatchet(level domain.RatchetLevel)
	SetLegislative(domain.LegislativeState)
	Legislative() domain.LegislativeState
	Ratchet() domain.RatchetLevel
	SetSentimentOverride(float64)
	ClearSentimentOverride()
	RequestFlatten(symbol string)
	UpdateConfigKey(key, value string) error
}

// ExecutionControl is the subset of execution.Adapter behavior the
// sovereign surface drives directly for single-symbol interventions,
// distinct from the governor's global ratchet/legislative state.
type ExecutionControl interface {
	CancelOrder(orderID uint64) bool
}

// Server exposes the sovereign command surface over HTTP, matching the
// teacher's ServeMux-plus-struct-handler shape. A single POST endpoint
// serves every command kind, so auth and audit logging are uniform. The
// health/mode introspection endpoints fold in the teacher's ops_api.go
// surface: read-only, so they carry no signature requirement, but still
// require the shared pre-shared key like every other sovereign endpoint.
type Server struct {
	log  zerolog.Logger
	auth *Authenticator
	gov  GovernorControl
	exec ExecutionControl
	audit *AuditLog
	mode string

	onTerminate func()
}

func NewServer(log zerolog.Logger, auth *Authenticator, gov GovernorControl, audit *AuditLog, onTerminate func()) *Server {
	return &Server{log: log, auth: auth, gov: gov, audit: audit, onTerminate: onTerminate}
}

// WithExecution wires the Execution Adapter into the command surface for
// cancel_order. Optional: if never called, cancel_order is rejected with
// a clear error instead of panicking on a nil Execution Adapter.
func (s *Server) WithExecution(exec ExecutionControl) *Server {
	s.exec = exec
	return s
}

// WithMode records the process's configured trading mode for the
// /sovereign/mode introspection endpoint.
func (s *Server) WithMode(mode string) *Server {
	s.mode = mode
	return s
}

// Mux builds the HTTP handler tree.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sovereign/command", s.commandHandler)
	mux.HandleFunc("/sovereign/audit", s.auditHandler)
	mux.HandleFunc("/sovereign/health", s.healthHandler)
	mux.HandleFunc("/sovereign/mode", s.modeHandler)
	return mux
}

type healthResponse struct {
	Status  string              `json:"status"`
	Ratchet domain.RatchetLevel `json:"ratchet_level"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.CheckKey(r.URL.Query().Get("key")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Ratchet: s.gov.Ratchet()})
}

type modeResponse struct {
	Mode string `json:"mode"`
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.CheckKey(r.URL.Query().Get("key")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modeResponse{Mode: s.mode})
}

type commandRequest struct {
	Kind              string  `json:"kind"`
	UserID            string  `json:"user_id"`
	Reason            string  `json:"reason"`
	SentimentOverride float64 `json:"sentiment_override"`

	// update_legislation payload (spec §6).
	Bias            string  `json:"bias"`
	Aggression      float64 `json:"aggression"`
	MakerOnly       bool    `json:"maker_only"`
	Hibernation     bool    `json:"hibernation"`
	SnapToBreakeven bool    `json:"snap_to_breakeven"`

	Symbol  string `json:"symbol"`   // close_position
	OrderID uint64 `json:"order_id"` // cancel_order

	ConfigKey   string `json:"config_key"`   // update_config
	ConfigValue string `json:"config_value"`

	Signature string `json:"signature"`
	Key       string `json:"key"`
}

func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmd := Command{
		Kind:              Kind(req.Kind),
		UserID:            req.UserID,
		Reason:            req.Reason,
		SentimentOverride: req.SentimentOverride,
		Symbol:            req.Symbol,
		OrderID:           req.OrderID,
		ConfigKey:         req.ConfigKey,
		ConfigValue:       req.ConfigValue,
		Signature:         req.Signature,
		Source:            r.RemoteAddr,
	}

	if cmd.Kind == KindSetLegislation {
		bias := domain.Bias(req.Bias)
		switch bias {
		case domain.BiasNeutral, domain.BiasLongOnly, domain.BiasShortOnly:
		default:
			http.Error(w, "invalid bias", http.StatusBadRequest)
			return
		}
		aggression := req.Aggression
		if aggression < 0.1 || aggression > 2.0 {
			http.Error(w, "aggression must be in [0.1, 2.0]", http.StatusBadRequest)
			return
		}
		cmd.Legislative = &domain.LegislativeState{
			Bias:            bias,
			Aggression:      aggression,
			MakerOnly:       req.MakerOnly,
			Hibernation:     req.Hibernation,
			SnapToBreakeven: req.SnapToBreakeven,
		}
	}

	if err := s.auth.Authenticate(cmd, req.Key); err != nil {
		metrics.SovereignAuthFailures.WithLabelValues().Inc()
		RecordCommand(s.audit, cmd, req.Reason, false, start)
		// Never leak which check failed beyond a generic error.
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	applyErr := s.handle(cmd)
	metrics.SovereignCommands.WithLabelValues(string(cmd.Kind)).Inc()
	requestID := RecordCommand(s.audit, cmd, req.Reason, applyErr == nil, start)

	if applyErr != nil {
		http.Error(w, applyErr.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ack", "request_id": requestID})
}

func (s *Server) handle(cmd Command) error {
	result := Apply(cmd, s.gov.Ratchet())

	switch cmd.Kind {
	case KindResume:
		s.gov.ClearRatchet(domain.RatchetIdle)
	default:
		if result.RatchetChanged {
			s.gov.ForceRatchet(result.NewRatchet)
		}
	}

	if result.LegislativeDelta != nil {
		s.gov.SetLegislative(result.LegislativeDelta(s.gov.Legislative()))
	}

	if result.SentimentOverride != nil {
		s.gov.SetSentimentOverride(*result.SentimentOverride)
	}
	if result.ClearSentiment {
		s.gov.ClearSentimentOverride()
	}
	if result.FlattenSymbol != "" {
		s.gov.RequestFlatten(result.FlattenSymbol)
	}
	if result.CancelRequested {
		if s.exec == nil {
			return fmt.Errorf("execution adapter not wired into sovereign server")
		}
		if !s.exec.CancelOrder(result.CancelOrderID) {
			return fmt.Errorf("order %d is not resting", result.CancelOrderID)
		}
	}
	if result.ConfigRequested {
		if err := s.gov.UpdateConfigKey(result.ConfigKey, result.ConfigValue); err != nil {
			return err
		}
	}

	if result.Terminate && s.onTerminate != nil {
		s.onTerminate()
	}
	return nil
}

func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.CheckKey(r.URL.Query().Get("key")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.audit.Tail(100))
}
