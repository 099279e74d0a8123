// Package api exposes the node's peer-management, consensus, state, and
// lineage surfaces over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/byzantine"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/monitoring"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/node"
)

// Handler represents the HTTP API handler
type Handler struct {
	node       *node.Node
	monitoring *monitoring.Service
	logger     *logrus.Entry
}

// NewHTTPHandler creates a new HTTP handler with all routes configured
func NewHTTPHandler(n *node.Node, monitoring *monitoring.Service) http.Handler {
	handler := &Handler{
		node:       n,
		monitoring: monitoring,
		logger:     logger.NewForComponent("http-api"),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(handler.corsMiddleware)
	if monitoring != nil {
		r.Use(handler.metricsMiddleware)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Peer management
		r.Route("/peers", func(r chi.Router) {
			r.Get("/", handler.getPeers)
			r.Post("/", handler.addPeer)
			r.Delete("/{peerId}", handler.removePeer)
		})

		// Consensus
		r.Route("/consensus", func(r chi.Router) {
			r.Post("/propose", handler.propose)
			r.Post("/vote", handler.vote)
			r.Get("/result/{round}", handler.getResult)
			r.Get("/votes/{round}", handler.getVotes)
		})

		// Replicated state
		r.Route("/state", func(r chi.Router) {
			r.Get("/", handler.getState)
			r.Get("/beliefs", handler.getBeliefs)
			r.Post("/beliefs", handler.assertBelief)
			r.Post("/memories", handler.recordMemory)
			r.Post("/knowledge", handler.setKnowledge)
			r.Post("/skills", handler.observeSkill)
		})

		// Lineage graph
		r.Route("/lineage", func(r chi.Router) {
			r.Get("/", handler.getLineage)
			r.Get("/{nodeId}/ancestors", handler.getAncestors)
			r.Get("/{nodeId}/descendants", handler.getDescendants)
		})

		// Byzantine fault report
		r.Get("/faults", handler.getFaults)

		// Health and info endpoints
		r.Get("/health", handler.getHealth)
		r.Get("/info", handler.getInfo)
	})

	return r
}

// metricsMiddleware records request counts and latency per route
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.monitoring.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Peer endpoints

func (h *Handler) getPeers(w http.ResponseWriter, r *http.Request) {
	peers := h.node.Gossip().Peers()
	response := map[string]interface{}{
		"peers":     peers,
		"total":     len(peers),
		"timestamp": time.Now().UTC(),
	}
	h.writeJSON(w, http.StatusOK, response)
}

type addPeerRequest struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	PublicKey []byte `json:"publicKey,omitempty"`
}

func (h *Handler) addPeer(w http.ResponseWriter, r *http.Request) {
	var req addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" || req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields: id, address")
		return
	}

	h.node.RegisterPeer(req.ID, req.Address, req.PublicKey)
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"id":        req.ID,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) removePeer(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerId")
	if peerID == "" {
		h.writeError(w, http.StatusBadRequest, "Peer id is required")
		return
	}
	if !h.node.RemovePeer(peerID) {
		h.writeError(w, http.StatusNotFound, "Peer not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"id":        peerID,
		"timestamp": time.Now().UTC(),
	})
}

// Consensus endpoints

type proposeRequest struct {
	Value json.RawMessage `json:"value"`
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		h.writeError(w, http.StatusBadRequest, "Missing required field: value")
		return
	}

	result, err := h.node.Propose(req.Value)
	if err != nil {
		h.logger.WithError(err).Error("Proposal failed")
		h.writeError(w, http.StatusInternalServerError, "Proposal failed")
		return
	}
	if h.monitoring != nil {
		h.monitoring.RecordConsensusRound(result.Achieved)
	}
	h.writeJSON(w, http.StatusOK, result)
}

type voteRequest struct {
	Round  uint64          `json:"round"`
	NodeID string          `json:"nodeId"`
	Value  json.RawMessage `json:"value"`
}

func (h *Handler) vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NodeID == "" || len(req.Value) == 0 {
		h.writeError(w, http.StatusBadRequest, "Missing required fields: nodeId, value")
		return
	}

	err := h.node.CastVote(req.Round, req.NodeID, req.Value)
	switch {
	case errors.Is(err, byzantine.ErrUnknownRound):
		h.writeError(w, http.StatusNotFound, "Round does not exist")
		return
	case errors.Is(err, byzantine.ErrConflictingVote):
		h.writeError(w, http.StatusConflict, "Conflicting vote for this round")
		return
	case err != nil:
		h.logger.WithError(err).Error("Vote failed")
		h.writeError(w, http.StatusInternalServerError, "Vote failed")
		return
	}
	if h.monitoring != nil {
		h.monitoring.RecordVote()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"round":     req.Round,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) parseRound(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid round")
		return 0, false
	}
	return round, true
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	round, ok := h.parseRound(w, r)
	if !ok {
		return
	}
	result, err := h.node.Voting().CheckConsensus(round)
	if errors.Is(err, byzantine.ErrUnknownRound) {
		h.writeError(w, http.StatusNotFound, "Round does not exist")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to check consensus")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getVotes(w http.ResponseWriter, r *http.Request) {
	round, ok := h.parseRound(w, r)
	if !ok {
		return
	}
	votes, err := h.node.Voting().GetVotes(round)
	if errors.Is(err, byzantine.ErrUnknownRound) {
		h.writeError(w, http.StatusNotFound, "Round does not exist")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list votes")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"round": round,
		"votes": votes,
		"total": len(votes),
	})
}

// State endpoints

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.State())
}

func (h *Handler) getBeliefs(w http.ResponseWriter, r *http.Request) {
	converged := r.URL.Query().Get("converged") == "true"
	beliefs := h.node.Beliefs().All()
	if converged {
		beliefs = h.node.Beliefs().Converged()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"beliefs":   beliefs,
		"total":     len(beliefs),
		"converged": converged,
	})
}

type assertBeliefRequest struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

func (h *Handler) assertBelief(w http.ResponseWriter, r *http.Request) {
	var req assertBeliefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" || req.Confidence < 0 || req.Confidence > 1 {
		h.writeError(w, http.StatusBadRequest, "Belief needs an id and a confidence in [0, 1]")
		return
	}
	belief := h.node.AssertBelief(req.ID, req.Content, req.Confidence)
	h.writeJSON(w, http.StatusCreated, belief)
}

type recordMemoryRequest struct {
	Content string   `json:"content"`
	Parents []string `json:"parents,omitempty"`
}

func (h *Handler) recordMemory(w http.ResponseWriter, r *http.Request) {
	var req recordMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: content")
		return
	}
	mem, err := h.node.RecordMemory(req.Content, req.Parents)
	if err != nil {
		h.logger.WithError(err).Warn("Memory rejected")
		h.writeError(w, http.StatusBadRequest, "Memory rejected: "+err.Error())
		return
	}
	if h.monitoring != nil {
		h.monitoring.RecordStateMerge("memories")
	}
	h.writeJSON(w, http.StatusCreated, mem)
}

type setKnowledgeRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *Handler) setKnowledge(w http.ResponseWriter, r *http.Request) {
	var req setKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: key")
		return
	}
	if err := h.node.SetKnowledge(req.Key, req.Value); err != nil {
		h.logger.WithError(err).Error("Failed to set knowledge")
		h.writeError(w, http.StatusInternalServerError, "Failed to set knowledge")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"key":     req.Key,
	})
}

type observeSkillRequest struct {
	Name  string  `json:"name"`
	Level float64 `json:"level"`
}

func (h *Handler) observeSkill(w http.ResponseWriter, r *http.Request) {
	var req observeSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: name")
		return
	}
	h.node.ObserveSkill(req.Name, req.Level)
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"name":    req.Name,
	})
}

// Lineage endpoints

func (h *Handler) getLineage(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.Lineage())
}

func (h *Handler) getAncestors(w http.ResponseWriter, r *http.Request) {
	h.lineageReachability(w, r, h.node.Lineage().Ancestors, "ancestors")
}

func (h *Handler) getDescendants(w http.ResponseWriter, r *http.Request) {
	h.lineageReachability(w, r, h.node.Lineage().Descendants, "descendants")
}

func (h *Handler) lineageReachability(w http.ResponseWriter, r *http.Request, traverse func(string) ([]string, error), key string) {
	nodeID := chi.URLParam(r, "nodeId")
	ids, err := traverse(nodeID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Lineage node not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    nodeID,
		key:     ids,
		"total": len(ids),
	})
}

// Fault reporting

func (h *Handler) getFaults(w http.ResponseWriter, r *http.Request) {
	faults := h.node.Gossip().Faults()
	equivocators := byzantine.DetectEquivocation(faults)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"faults":       faults,
		"equivocators": equivocators,
		"total":        len(faults),
	})
}

// Health and info endpoints

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.Health())
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "swarm-sync",
		"node_id":   h.node.ID(),
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if statusCode > 0 {
		w.WriteHeader(statusCode)
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to write JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.logger.WithFields(logrus.Fields{
		"status_code": statusCode,
		"message":     message,
	}).Warn("HTTP error response")

	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	h.writeJSON(w, statusCode, response)
}
