// Package api exposes the REST surface of the backend: swiping,
// messaging, conversation paging, and unmatching. Handlers authenticate
// the caller with a bearer access token, charge the action's rate quota,
// and delegate to the matching engine and chat service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/emberly/match-app/internal/chat"
	"github.com/emberly/match-app/internal/matching"
	"github.com/emberly/match-app/internal/metrics"
	"github.com/emberly/match-app/internal/ratelimit"
	"github.com/emberly/match-app/internal/store"
)

// Verifier authenticates a bearer token. Implemented by
// *auth.Authenticator; the refresh slot stays empty on the REST surface,
// where only access tokens are accepted.
type Verifier interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string) (string, error)
}

// Limiter charges rate quotas. Implemented by *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, actor string, rule ratelimit.Rule) error
}

// Engine records views and forms matches. Implemented by
// *matching.Engine.
type Engine interface {
	Like(ctx context.Context, viewerID, targetID string, liked bool) (matching.Result, error)
}

// Chat sends, pages, and unmatches. Implemented by *chat.Service.
type Chat interface {
	SendMessage(ctx context.Context, senderID, recipientID, text string) (*store.Message, error)
	Conversation(ctx context.Context, userID, otherID string, before *time.Time, limit int) ([]store.Message, error)
	Unmatch(ctx context.Context, actorID, otherID string) error
}

// LikeCounter reads received-like counters. Implemented by
// *counter.Likes.
type LikeCounter interface {
	Get(ctx context.Context, userID string) (int64, error)
}

// API holds the REST handlers and their collaborators.
type API struct {
	verifier Verifier
	limiter  Limiter
	engine   Engine
	chat     Chat
	likes    LikeCounter
}

// New creates the API with the given collaborators.
func New(verifier Verifier, limiter Limiter, engine Engine, chatSvc Chat, likes LikeCounter) *API {
	return &API{verifier: verifier, limiter: limiter, engine: engine, chat: chatSvc, likes: likes}
}

// Register mounts the API routes. The mount function is typically
// (*ws.Server).Handle, so the REST surface and the WebSocket upgrade share
// one listener.
func (a *API) Register(mount func(pattern string, handler http.Handler)) {
	mount("POST /likes", a.authenticated(a.handleLike))
	mount("POST /messages", a.authenticated(a.handleSendMessage))
	mount("GET /conversation", a.authenticated(a.handleConversation))
	mount("POST /unmatch", a.authenticated(a.handleUnmatch))
	mount("GET /likes/count", a.authenticated(a.handleLikeCount))
}

// authenticated wraps a handler with bearer-token authentication and
// injects the caller's user id.
func (a *API) authenticated(next func(w http.ResponseWriter, r *http.Request, userID string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := a.verifier.Authenticate(r.Context(), token, "")
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

// allow charges one point of the actor's quota and writes the 429 when the
// quota rejects. Any limiter failure is a denial.
func (a *API) allow(w http.ResponseWriter, r *http.Request, actor string, rule ratelimit.Rule) bool {
	err := a.limiter.Allow(r.Context(), actor, rule)
	if err == nil {
		return true
	}

	metrics.QuotaRejections.WithLabelValues(rule.Key).Inc()
	var rlErr *ratelimit.Error
	if errors.As(err, &rlErr) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, rlErr.Error())
		return false
	}
	// Counter store unreachable: fail closed.
	writeError(w, http.StatusTooManyRequests, "rate limit check unavailable")
	return false
}

type likeRequest struct {
	UserID string `json:"userId"`
	Liked  bool   `json:"liked"`
}

type likeResponse struct {
	Match bool `json:"match"`
	OK    bool `json:"ok"`
}

// handleLike records a swipe. The response reports whether a match formed
// and whether the swipe was accepted; a repeat swipe on the same target
// comes back with ok=false and no state change.
func (a *API) handleLike(w http.ResponseWriter, r *http.Request, userID string) {
	var req likeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !a.allow(w, r, userID, ratelimit.RuleSwipe) {
		return
	}

	res, err := a.engine.Like(r.Context(), userID, req.UserID, req.Liked)
	if errors.Is(err, matching.ErrSelfView) {
		writeError(w, http.StatusBadRequest, "cannot swipe on yourself")
		return
	}
	if err != nil {
		log.Printf("[api] like user=%s target=%s: %v", userID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, likeResponse{Match: res.Matched, OK: !res.Duplicate})
}

type sendMessageRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type messagePayload struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toPayload(m store.Message) messagePayload {
	return messagePayload{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
	}
}

// handleSendMessage persists a message to a matched user.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !a.allow(w, r, userID, ratelimit.RuleMessage) {
		return
	}

	msg, err := a.chat.SendMessage(r.Context(), userID, req.UserID, req.Text)
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
		return
	case errors.Is(err, chat.ErrNoMatch):
		writeError(w, http.StatusNotFound, "no active match")
		return
	case err != nil:
		log.Printf("[api] send message user=%s to=%s: %v", userID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toPayload(*msg))
}

// handleConversation pages messages between the caller and userId, newest
// first. Optional query parameters: before (RFC 3339 cursor) and limit.
func (a *API) handleConversation(w http.ResponseWriter, r *http.Request, userID string) {
	otherID := r.URL.Query().Get("userId")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &t
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := a.chat.Conversation(r.Context(), userID, otherID, before, limit)
	if errors.Is(err, chat.ErrNoMatch) {
		writeError(w, http.StatusNotFound, "no active match")
		return
	}
	if err != nil {
		log.Printf("[api] conversation user=%s with=%s: %v", userID, otherID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	payload := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		payload = append(payload, toPayload(m))
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []messagePayload `json:"messages"`
	}{Messages: payload})
}

type unmatchRequest struct {
	UserID string `json:"userId"`
}

// handleUnmatch deactivates the caller's match with userId.
func (a *API) handleUnmatch(w http.ResponseWriter, r *http.Request, userID string) {
	var req unmatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.chat.Unmatch(r.Context(), userID, req.UserID)
	if errors.Is(err, chat.ErrNoMatch) {
		writeError(w, http.StatusNotFound, "no active match")
		return
	}
	if err != nil {
		log.Printf("[api] unmatch user=%s with=%s: %v", userID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleLikeCount returns the caller's received-like counter.
func (a *API) handleLikeCount(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := a.likes.Get(r.Context(), userID)
	if err != nil {
		log.Printf("[api] like count user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Count int64 `json:"count"`
	}{Count: n})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}
