package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/emohunter/trustanchor/pkg/observability"
	"github.com/emohunter/trustanchor/pkg/trust"
)

// Server exposes the trust service over HTTP.
type Server struct {
	service *trust.Service
	schema  *jsonschema.Schema
	logger  *slog.Logger
	obs     *observability.Provider
}

// NewServer builds the HTTP surface around a trust service. The commit
// request schema is compiled once here.
func NewServer(service *trust.Service, logger *slog.Logger) (*Server, error) {
	schema, err := compileCommitSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: service, schema: schema, logger: logger.With("component", "api")}, nil
}

// WithObservability records commit and verify operations (span, rate,
// errors, latency) through the given provider.
func (s *Server) WithObservability(p *observability.Provider) *Server {
	s.obs = p
	return s
}

// track opens an operation span; the returned func records the outcome.
func (s *Server) track(ctx context.Context, name string) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	return s.obs.TrackOperation(ctx, name)
}

// HandleCommit handles POST /trust/commit.
func (s *Server) HandleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		WriteBadRequest(w, "Invalid JSON in request body")
		return
	}
	if err := s.schema.Validate(raw); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	var summary trust.SessionSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, done := s.track(r.Context(), "trust.commit")
	result, err := s.service.CreateCommit(ctx, summary)
	done(err)
	if err != nil {
		WriteTrustError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleVerify handles GET /trust/verify. Exactly one of session_id or
// commit_hash selects the receipt to verify. An optional tx_id cross-checks
// the receipt against that specific anchor transaction instead of the
// pointer stored with it.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	commitHash := r.URL.Query().Get("commit_hash")
	txID := r.URL.Query().Get("tx_id")

	if sessionID != "" && commitHash != "" {
		WriteBadRequest(w, "Provide either session_id or commit_hash, not both")
		return
	}
	if sessionID == "" && commitHash == "" {
		WriteBadRequest(w, "Missing required query parameter: session_id or commit_hash")
		return
	}

	ctx, done := s.track(r.Context(), "trust.verify")
	var (
		result *trust.VerifyResult
		err    error
	)
	if sessionID != "" {
		result, err = s.service.Verify(ctx, sessionID, txID)
	} else {
		result, err = s.service.VerifyByCommitHash(ctx, commitHash, txID)
	}
	done(err)
	if err != nil {
		WriteTrustError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// healthResponse is the wire format for GET /trust/health.
type healthResponse struct {
	Status    string `json:"status"`
	Mode      string `json:"mode"`
	AgentDID  string `json:"agent_did"`
	PublicKey string `json:"public_key"`
}

// HandleHealth handles GET /trust/health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, &healthResponse{
		Status:    "ok",
		Mode:      s.service.AnchorMode(),
		AgentDID:  s.service.AgentDID(),
		PublicKey: s.service.PublicKeyBase64(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
