package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/gamerunner"
	"github.com/imaddar/pair-match/internal/persistence"
	"github.com/imaddar/pair-match/internal/rules"
	"github.com/imaddar/pair-match/internal/statemachine"
)

const (
	maxRequestBodyBytes = 4 << 10
	ledgerWriteTimeout  = 5 * time.Second
	defaultSource       = "http"
)

var errEmptyBody = errors.New("empty request body")

type ServerConfig struct {
	// AuthBearerToken enables bearer authentication on every route except
	// /healthz when set.
	AuthBearerToken string
	Session         domain.SessionConfig
	// Shuffler deals decks for requests without a seed. Defaults to crypto/rand.
	Shuffler  rules.Shuffler
	Scheduler gamerunner.Scheduler
	Logger    *slog.Logger
	Source    string
}

type liveSession struct {
	id     string
	deck   domain.Deck
	loop   *gamerunner.Loop
	ledger *persistence.Ledger
	hub    *hub

	// seq is touched only from the loop goroutine.
	seq int
}

type Server struct {
	repo   persistence.Repository
	config ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type CreateRequest struct {
	Seed            *int64  `json:"seed,omitempty"`
	MismatchDelayMS *uint64 `json:"mismatch_delay_ms,omitempty"`
}

type RevealRequest struct {
	Slot *int `json:"slot"`
}

type createResponse struct {
	SessionID string            `json:"session_id"`
	View      statemachine.View `json:"view"`
}

type revealResponse struct {
	Accepted bool              `json:"accepted"`
	Reason   string            `json:"reason,omitempty"`
	Commands []publicCommand   `json:"commands"`
	View     statemachine.View `json:"view"`
}

type sessionResponse struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	View      *statemachine.View `json:"view,omitempty"`
	Record    *recordResponse    `json:"record,omitempty"`
}

// recordResponse is a ledger record without the deck order.
type recordResponse struct {
	SessionID       string           `json:"session_id"`
	Source          string           `json:"source"`
	Status          string           `json:"status"`
	FinalState      domain.GameState `json:"final_state"`
	Score           int              `json:"score"`
	TriedTimes      int              `json:"tried_times"`
	Matches         int              `json:"matches"`
	MismatchDelayMS uint64           `json:"mismatch_delay_ms"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	Error           string           `json:"error,omitempty"`
}

type listResponse struct {
	Sessions []recordResponse `json:"sessions"`
}

// publicCommand is a command as clients see it: card positions are replaced
// by the table slots that show them and the deck order is never sent.
type publicCommand struct {
	Kind       statemachine.CommandKind `json:"kind"`
	Slots      []int                    `json:"slots,omitempty"`
	FaceUp     bool                     `json:"face_up"`
	Card       *domain.Card             `json:"card,omitempty"`
	Score      int                      `json:"score"`
	TriedTimes int                      `json:"tried_times"`
	DelayMS    uint64                   `json:"delay_ms,omitempty"`
	DeckSize   int                      `json:"deck_size,omitempty"`
}

func NewServer(repo persistence.Repository, config ServerConfig) *Server {
	if config.Session == (domain.SessionConfig{}) {
		config.Session = domain.DefaultSessionConfig()
	}
	if config.Shuffler == nil {
		config.Shuffler = rules.NewCryptoShuffler()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Source == "" {
		config.Source = defaultSource
	}
	return &Server{
		repo:     repo,
		config:   config,
		logger:   config.Logger,
		sessions: make(map[string]*liveSession),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="pair-match"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, action, ok := parseSessionRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	switch {
	case sessionID == "" && r.Method == http.MethodPost:
		s.handleCreate(w, r)
	case sessionID == "" && r.Method == http.MethodGet:
		s.handleList(w, r)
	case sessionID != "" && action == "" && r.Method == http.MethodGet:
		s.handleGet(w, r, sessionID)
	case sessionID != "" && action == "" && r.Method == http.MethodDelete:
		s.handleAbandon(w, r, sessionID)
	case action == "reveal" && r.Method == http.MethodPost:
		s.handleReveal(w, r, sessionID)
	case action == "events" && r.Method == http.MethodGet:
		s.handleEvents(w, r, sessionID)
	case action != "" && action != "reveal" && action != "events":
		writeError(w, http.StatusNotFound, "route not found")
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Close abandons every live session. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for id, session := range s.sessions {
		live = append(live, session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, session := range live {
		s.shutdown(session)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusInternalServerError, "server is not configured")
		return
	}

	var req CreateRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionConfig := s.config.Session
	if req.MismatchDelayMS != nil {
		sessionConfig.MismatchDelayMS = *req.MismatchDelayMS
	}
	if err := sessionConfig.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shuffler := s.config.Shuffler
	if req.Seed != nil {
		shuffler = rules.NewSeededShuffler(*req.Seed)
	}

	live := &liveSession{
		id:     domain.NewSessionID(),
		ledger: persistence.NewLedger(s.repo, s.config.Source),
	}
	logger := s.logger.With("session_id", live.id)
	live.hub = newHub(logger)

	loop, _, err := gamerunner.StartLoop(statemachine.NewSessionInput{
		ID:       live.id,
		Shuffler: shuffler,
		Config:   sessionConfig,
	}, gamerunner.LoopConfig{
		Scheduler: s.config.Scheduler,
		Logger:    logger,
		OnStep:    func(event gamerunner.StepEvent) { s.onStep(live, event) },
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	live.loop = loop

	session, err := loop.Snapshot(r.Context())
	if err != nil {
		loop.Close()
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	live.deck = session.Deck.Clone()

	ctx, cancel := context.WithTimeout(r.Context(), ledgerWriteTimeout)
	defer cancel()
	if err := live.ledger.Start(ctx, session); err != nil {
		loop.Close()
		logger.Error("persist session start", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist session")
		return
	}

	s.mu.Lock()
	s.sessions[live.id] = live
	s.mu.Unlock()

	logger.Info("session created", "mismatch_delay_ms", sessionConfig.MismatchDelayMS, "seeded", req.Seed != nil)
	writeJSON(w, http.StatusCreated, createResponse{
		SessionID: live.id,
		View:      statemachine.NewView(session),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.repo.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := listResponse{Sessions: make([]recordResponse, 0, len(records))}
	for _, record := range records {
		out.Sessions = append(out.Sessions, newRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, sessionID string) {
	if live, ok := s.lookup(sessionID); ok {
		session, err := live.loop.Snapshot(r.Context())
		if err == nil {
			view := statemachine.NewView(session)
			writeJSON(w, http.StatusOK, sessionResponse{
				SessionID: sessionID,
				Status:    string(persistence.SessionStatusRunning),
				View:      &view,
			})
			return
		}
		if !errors.Is(err, gamerunner.ErrLoopClosed) {
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
	}

	record, ok, err := s.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("load session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rec := newRecordResponse(record)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sessionID,
		Status:    rec.Status,
		Record:    &rec,
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req RevealRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Slot == nil {
		writeError(w, http.StatusBadRequest, "request body must be {\"slot\": n}")
		return
	}

	live, ok := s.lookup(sessionID)
	if !ok {
		s.writeNotRunning(w, r, sessionID)
		return
	}

	result, err := live.loop.Reveal(r.Context(), *req.Slot)
	if errors.Is(err, gamerunner.ErrLoopClosed) {
		s.writeNotRunning(w, r, sessionID)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "reveal was not processed")
		return
	}

	resp := revealResponse{
		Accepted: result.Accepted,
		Commands: publicCommands(live.deck, result.Commands),
		View:     result.View,
	}
	if result.Reason != nil {
		resp.Reason = result.Reason.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request, sessionID string) {
	s.mu.Lock()
	live, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		s.writeNotRunning(w, r, sessionID)
		return
	}

	status := s.shutdown(live)
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     string(status),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	live, ok := s.lookup(sessionID)
	if !ok {
		s.writeNotRunning(w, r, sessionID)
		return
	}
	sub, ok := live.hub.subscribe()
	if !ok {
		writeError(w, http.StatusConflict, "session is not running")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		live.hub.unsubscribe(sub)
		return
	}
	go live.hub.serve(conn, sub)
}

// onStep runs on the session's loop goroutine for every accepted transition,
// including timer-driven recoveries.
func (s *Server) onStep(live *liveSession, event gamerunner.StepEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()
	if err := live.ledger.Step(ctx, event.Session, event.Step, event.Fallback); err != nil {
		s.logger.Error("persist session step", "session_id", live.id, "error", err)
	}

	live.seq++
	live.hub.broadcast(eventBatch{
		SessionID: live.id,
		Seq:       live.seq,
		Commands:  publicCommands(event.Session.Deck, event.Step.Commands),
	})

	if event.Session.IsFinished() {
		s.logger.Info("session finished", "session_id", live.id, "score", event.Session.Score, "tried_times", event.Session.TriedTimes)
		// Close waits for the loop goroutine, so it cannot run here.
		go s.retire(live)
	}
}

func (s *Server) retire(live *liveSession) {
	s.mu.Lock()
	current, ok := s.sessions[live.id]
	if ok && current == live {
		delete(s.sessions, live.id)
	}
	s.mu.Unlock()
	if !ok || current != live {
		return
	}
	live.loop.Close()
	live.hub.close()
}

// shutdown stops a live session that has already been removed from the
// registry and records how it ended.
func (s *Server) shutdown(live *liveSession) persistence.SessionStatus {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	session, snapErr := live.loop.Snapshot(ctx)
	live.loop.Close()
	live.hub.close()

	if snapErr != nil {
		s.logger.Warn("session closed before final snapshot", "session_id", live.id, "error", snapErr)
		return persistence.SessionStatusAbandoned
	}
	if session.IsFinished() {
		return persistence.SessionStatusFinished
	}
	if err := live.ledger.Close(ctx, session, nil); err != nil {
		s.logger.Error("persist session abandon", "session_id", live.id, "error", err)
	}
	s.logger.Info("session abandoned", "session_id", live.id, "tried_times", session.TriedTimes)
	return persistence.SessionStatusAbandoned
}

func (s *Server) lookup(sessionID string) (*liveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.sessions[sessionID]
	return live, ok
}

func (s *Server) writeNotRunning(w http.ResponseWriter, r *http.Request, sessionID string) {
	_, ok, err := s.repo.GetSession(r.Context(), sessionID)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load session")
	case ok:
		writeError(w, http.StatusConflict, "session is not running")
	default:
		writeError(w, http.StatusNotFound, "session not found")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.AuthBearerToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.config.AuthBearerToken)) == 1
}

func publicCommands(deck domain.Deck, commands []statemachine.Command) []publicCommand {
	out := make([]publicCommand, 0, len(commands))
	for _, cmd := range commands {
		pc := publicCommand{
			Kind:       cmd.Kind,
			FaceUp:     cmd.FaceUp,
			Card:       cmd.Card,
			Score:      cmd.Score,
			TriedTimes: cmd.TriedTimes,
			DelayMS:    cmd.DelayMS,
		}
		if cmd.Kind == statemachine.CommandRenderDeck {
			pc.DeckSize = len(cmd.Deck)
		}
		for _, p := range cmd.Positions {
			if slot, ok := deck.SlotOf(p); ok {
				pc.Slots = append(pc.Slots, slot)
			}
		}
		out = append(out, pc)
	}
	return out
}

func newRecordResponse(record persistence.SessionRecord) recordResponse {
	return recordResponse{
		SessionID:       record.SessionID,
		Source:          record.Source,
		Status:          string(record.Status),
		FinalState:      record.FinalState,
		Score:           record.Score,
		TriedTimes:      record.TriedTimes,
		Matches:         record.Matches,
		MismatchDelayMS: record.MismatchDelayMS,
		StartedAt:       record.StartedAt,
		EndedAt:         record.EndedAt,
		Error:           record.Error,
	}
}

func parseSessionRoute(path string) (sessionID string, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] != "sessions" {
		return "", "", false
	}
	switch len(parts) {
	case 1:
		return "", "", true
	case 2:
		if parts[1] == "" {
			return "", "", false
		}
		return parts[1], "", true
	case 3:
		if parts[1] == "" || parts[2] == "" {
			return "", "", false
		}
		return parts[1], parts[2], true
	default:
		return "", "", false
	}
}

// decodeJSONBody decodes exactly one JSON value from a size-limited body.
func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode: %w", err)
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("request body has trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
