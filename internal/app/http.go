package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studyhub/api/internal/auth"
	"studyhub/api/internal/authpw"
	"studyhub/api/internal/export"
	"studyhub/api/internal/focus"
	"studyhub/api/internal/live"
	"studyhub/api/internal/rbac"
	"studyhub/api/internal/search"
	"studyhub/api/internal/session"
	"studyhub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	// newMux builds a per-connection live view for the stream endpoint.
	newMux func() *live.Mux
}

func NewHTTPServer(service *Service, corsOrigin string, newMux func() *live.Mux) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, newMux: newMux}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_REFRESH", "Refresh token is invalid or expired", nil)
			return
		}
		writeSession(w, sess)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      sess.UserName,
			"userId":        sess.UserID,
			"role":          sess.Role,
		})
		return
	}

	// Everything below needs a session.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stream" {
		s.handleStream(w, r, sess)
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "me":
		s.handleMe(w, r, sess, parts)
	case "users":
		s.handleUsers(w, r, sess, parts)
	case "leaderboard":
		s.handleLeaderboard(w, r, sess)
	case "credits":
		s.handleCredits(w, r, sess, parts)
	case "social":
		s.handleSocial(w, r, sess, parts)
	case "quizzes":
		s.handleQuizzes(w, r, sess, parts)
	case "announcements":
		s.handleAnnouncements(w, r, sess, parts)
	case "resources":
		s.handleResources(w, r, sess, parts)
	case "poll":
		s.handlePoll(w, r, sess, parts)
	case "chat":
		s.handleChat(w, r, sess)
	case "focus":
		s.handleFocus(w, r, sess, parts)
	case "search":
		s.handleSearch(w, r, sess)
	case "export":
		s.handleExport(w, r, sess, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---------------------------------------------------------------------------
// Live stream

// handleStream serves the reactive snapshot feed over SSE. One multiplexer
// per connection; tearing the connection down abandons any running focus
// session, the same way closing the tab does.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, sess Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	mux := s.newMux()
	mux.Start(r.Context())
	defer mux.Close()
	mux.Bind(sess.UserID)

	ch, cancel := mux.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Brief settle so the first paint carries loaded snapshots instead of
	// nine empty ones.
	time.Sleep(50 * time.Millisecond)
	for _, snap := range mux.Snapshots() {
		writeEvent(w, snap)
	}
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			if _, running := s.service.FocusState(sess.UserID); running {
				s.service.Focus().Abandon(sess.UserID)
			}
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			writeEvent(w, snap)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap live.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
}

// ---------------------------------------------------------------------------
// Route handlers

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		user, err := s.service.CurrentUser(r.Context(), sess.UserID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "avatar":
		url, err := s.service.UploadAvatar(r.Context(), sess.UserID, r.Header.Get("Content-Type"), r.Body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"photoURL": url})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if !s.service.Can(sess.Role, rbac.ActionAdmin) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "block":
		var body struct {
			Blocked bool `json:"blocked"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetUserBlocked(r.Context(), parts[1], body.Blocked); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLeaderboard(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := s.service.Leaderboard(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": users})
}

func (s *HTTPServer) handleCredits(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionAdmin) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch parts[1] {
	case "gift":
		var body struct {
			UID    string  `json:"uid"`
			Amount float64 `json:"amount"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Ledger().Gift(r.Context(), body.UID, body.Amount); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "reset":
		var body struct {
			UID string `json:"uid"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Ledger().ResetToDefault(r.Context(), body.UID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSocial(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 2 || parts[1] != "unlock" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionParticipate) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	if err := s.service.UnlockSocial(r.Context(), sess.UserID); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleQuizzes(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionParticipate) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	quizID := parts[1]
	switch parts[2] {
	case "attempt":
		if err := s.service.Ledger().IncrementQuizAttempt(r.Context(), sess.UserID, quizID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "perfect":
		if err := s.service.Ledger().AddPerfectedQuiz(r.Context(), sess.UserID, quizID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAnnouncements(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		items, err := s.service.ListAnnouncements(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"announcements": items})
	case r.Method == http.MethodPost && len(parts) == 1:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var input AnnouncementInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateAnnouncement(r.Context(), input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	case r.Method == http.MethodDelete && len(parts) == 2:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.DeleteAnnouncement(r.Context(), parts[1]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		items, err := s.service.ListResources(r.Context(), parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": items})
	case r.Method == http.MethodPost && len(parts) == 1:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var input ResourceInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateResource(r.Context(), input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	case r.Method == http.MethodPut && len(parts) == 2:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var input ResourceInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateResource(r.Context(), parts[1], input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case r.Method == http.MethodDelete && len(parts) == 3:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.DeleteResource(r.Context(), parts[1], parts[2]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePoll(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		poll, err := s.service.ActivePoll(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"poll": poll})
	case r.Method == http.MethodPost && len(parts) == 1:
		if !s.service.Can(sess.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var input PublishPollInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		poll, err := s.service.PublishPoll(r.Context(), input)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, poll)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "vote":
		if !s.service.Can(sess.Role, rbac.ActionParticipate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			PollID string `json:"pollId"`
			Option string `json:"option"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Vote(r.Context(), sess.UserID, body.PollID, body.Option); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, sess Session) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.service.RecentMessages(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
	case http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionParticipate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.SendMessage(r.Context(), sess.UserID, body.Text)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleFocus(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if !s.service.Can(sess.Role, rbac.ActionParticipate) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "slots":
		writeJSON(w, http.StatusOK, map[string]any{"slots": focus.Slots(), "penalty": focus.Penalty})
	case r.Method == http.MethodGet && len(parts) == 1:
		state, running := s.service.FocusState(sess.UserID)
		if !running {
			writeJSON(w, http.StatusOK, map[string]any{"running": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"running": true, "session": state})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "start":
		var body struct {
			Seconds int `json:"seconds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.StartFocus(sess.UserID, time.Duration(body.Seconds)*time.Second)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, state)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "stop":
		state, err := s.service.StopFocus(sess.UserID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	// Premium hits stay hidden until the viewer has unlocked them.
	includePremium := s.service.Can(sess.Role, rbac.ActionAdmin)
	if !includePremium {
		if user, err := s.service.CurrentUser(r.Context(), sess.UserID); err == nil {
			includePremium = user.SocialUnlocked
		}
	}

	resp, err := s.service.Search(search.Query{
		Text:           query.Get("q"),
		FilterType:     search.ResultType(query.Get("type")),
		FilterCategory: query.Get("category"),
		Limit:          limit,
		Offset:         offset,
		IncludePremium: includePremium,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(sess.Role, rbac.ActionAdmin) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	query := r.URL.Query()
	format := export.Format(query.Get("format"))
	if format == "" {
		format = export.FormatCSV
	}
	limit, _ := strconv.Atoi(query.Get("limit"))

	result, err := s.service.Export(r.Context(), export.Request{
		Kind:   export.Kind(parts[1]),
		Format: format,
		PollID: query.Get("pollId"),
		Limit:  limit,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// ---------------------------------------------------------------------------
// Plumbing

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError || status == http.StatusNotFound {
			status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
		}
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the stream endpoint keep flushing through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeSession(w http.ResponseWriter, sess Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	// EventSource cannot set headers; the stream endpoint passes the token
	// in the query string instead.
	return r.URL.Query().Get("access_token")
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil
	case errors.Is(err, store.ErrPollNotFound):
		return http.StatusNotFound, "POLL_NOT_FOUND", "Poll not found", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrAccountBlocked):
		return http.StatusForbidden, "BLOCKED", "Account is blocked", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "INVALID_REFRESH", "Refresh token is invalid or expired", nil
	case errors.Is(err, export.ErrUnknownKind):
		return http.StatusBadRequest, "UNKNOWN_EXPORT", "Unknown export kind", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":      user.UID,
		"displayName": user.DisplayName,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeSession(w, sess)
}
