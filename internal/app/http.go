package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"marketplace/api/internal/auth"
	"marketplace/api/internal/authpw"
	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/search"
	"marketplace/api/internal/store"
	"marketplace/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string, log logrus.FieldLogger) *HTTPServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.WithField("component", "http")}
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
		checks := map[string]any{}
		for name, err := range s.service.Ready(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
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
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"fullName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
			Email:    body.Email,
			Password: body.Password,
			FullName: body.FullName,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/api/auth/user/signin" || r.URL.Path == "/api/auth/admin/signin") {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		signIn := s.service.SignInUser
		if r.URL.Path == "/api/auth/admin/signin" {
			signIn = s.service.SignInAdmin
		}
		session, err := signIn(r.Context(), body.Email, body.Password)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"kind":          session.Kind,
			"accountId":     session.AccountID,
			"name":          session.Name,
			"role":          session.Role,
			"permissions":   session.Permissions,
		})
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
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/entities" {
		writeJSON(w, http.StatusOK, map[string]any{"entities": s.service.Entities()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/catalog/search" {
		query := r.URL.Query()
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		var entity lifecycle.EntityType
		if segment := strings.TrimSpace(query.Get("entity")); segment != "" {
			cfg, err := s.service.ResolveEntity(segment)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			entity = cfg.Type
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
			Text:   strings.TrimSpace(query.Get("q")),
			Entity: entity,
			Limit:  limit,
			Offset: offset,
		}))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[1] == "admin" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleAdmin(w, r, session, parts[2:])
		return
	}

	s.handleEntity(w, r, parts[1:])
}

// handleEntity serves /api/{entity}/... for anonymous callers, users and
// admins alike. The lifecycle policy decides what each may do.
func (s *HTTPServer) handleEntity(w http.ResponseWriter, r *http.Request, parts []string) {
	cfg, err := s.service.ResolveEntity(parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}
	actor := session.Actor()

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		page, err := s.service.List(r.Context(), cfg.Type, actor, lifecycle.ListQuery{Scope: lifecycle.ScopePublic, Limit: limit, Offset: offset})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pagePayload(cfg, page, actor))

	case len(parts) == 1 && r.Method == http.MethodPost:
		var payload lifecycle.Payload
		if err := decodeBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.Create(r.Context(), cfg.Type, payload, actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, presentRecord(cfg, record, actor))

	case len(parts) == 2 && parts[1] == "mine" && r.Method == http.MethodGet:
		if session.Kind == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		statuses, ok := statusFilter(w, r, cfg)
		if !ok {
			return
		}
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		page, err := s.service.List(r.Context(), cfg.Type, actor, lifecycle.ListQuery{Scope: lifecycle.ScopeOwner, Statuses: statuses, Limit: limit, Offset: offset})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pagePayload(cfg, page, actor))

	case len(parts) == 2:
		id, ok := recordID(w, parts[1])
		if !ok {
			return
		}
		s.handleRecord(w, r, cfg, id, actor)

	case len(parts) == 3 && r.Method == http.MethodPost:
		id, ok := recordID(w, parts[1])
		if !ok {
			return
		}
		action, ok := lifecycle.ParseAction(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		var body struct {
			Reason   string `json:"reason"`
			Comments string `json:"comments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.TransitionStatus(r.Context(), cfg.Type, id, action, actor, lifecycle.TransitionInput{Reason: body.Reason, Comments: body.Comments})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, presentRecord(cfg, record, actor))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request, cfg lifecycle.EntityConfig, id int64, actor lifecycle.Actor) {
	var (
		record lifecycle.Record
		err    error
	)
	switch r.Method {
	case http.MethodGet:
		record, err = s.service.Get(r.Context(), cfg.Type, id, actor)
	case http.MethodPut, http.MethodPatch:
		var payload lifecycle.Payload
		if err := decodeBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err = s.service.Update(r.Context(), cfg.Type, id, payload, actor)
	case http.MethodDelete:
		record, err = s.service.SoftDelete(r.Context(), cfg.Type, id, actor)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentRecord(cfg, record, actor))
}

// handleAdmin serves /api/admin/... Every route requires an admin session.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	actor := session.Actor()
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 2 && parts[0] == "regeneration" && parts[1] == "runs" && r.Method == http.MethodGet {
		limit, _, ok := pagination(w, r)
		if !ok {
			return
		}
		runs, err := s.service.RegenerationRuns(r.Context(), actor, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": presentRuns(runs)})
		return
	}

	if len(parts) == 2 && parts[0] == "site" && r.Method == http.MethodGet {
		switch parts[1] {
		case "commits":
			limit, _, ok := pagination(w, r)
			if !ok {
				return
			}
			commits, err := s.service.SiteCommits(actor, limit)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
			return
		case "file":
			data, err := s.service.SiteFile(actor, r.URL.Query().Get("path"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			contentType := mime.TypeByExtension(filepath.Ext(r.URL.Query().Get("path")))
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	cfg, err := s.service.ResolveEntity(parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		statuses, ok := statusFilter(w, r, cfg)
		if !ok {
			return
		}
		active, ok := boolParam(w, r, "active")
		if !ok {
			return
		}
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		page, err := s.service.List(r.Context(), cfg.Type, actor, lifecycle.ListQuery{
			Scope:    lifecycle.ScopeAdmin,
			Statuses: statuses,
			Active:   active,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pagePayload(cfg, page, actor))

	case len(parts) == 2 && parts[1] == "bulk" && r.Method == http.MethodPost:
		var body struct {
			Action   string              `json:"action"`
			IDs      []int64             `json:"ids"`
			Reason   string              `json:"reason"`
			Comments string              `json:"comments"`
			Payload  lifecycle.Payload   `json:"payload"`
			Items    []lifecycle.Payload `json:"items"`
			Updates  []struct {
				ID      int64             `json:"id"`
				Payload lifecycle.Payload `json:"payload"`
			} `json:"updates"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		action := lifecycle.Action(strings.TrimSpace(body.Action))

		if action == lifecycle.ActionCreate {
			result, err := s.service.BulkCreate(r.Context(), cfg.Type, body.Items, actor)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, presentBulkCreate(cfg, result, actor))
			return
		}

		updates := make([]BulkUpdate, 0, len(body.Updates))
		for _, update := range body.Updates {
			updates = append(updates, BulkUpdate{ID: update.ID, Payload: update.Payload})
		}
		result, err := s.service.BulkTransition(r.Context(), cfg.Type, BulkRequest{
			Action:   action,
			IDs:      body.IDs,
			Reason:   body.Reason,
			Comments: body.Comments,
			Payload:  body.Payload,
			Updates:  updates,
		}, actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, presentBulk(cfg, result, actor))

	case len(parts) == 2 && r.Method == http.MethodDelete:
		id, ok := recordID(w, parts[1])
		if !ok {
			return
		}
		record, err := s.service.HardDelete(r.Context(), cfg.Type, id, actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": presentRecord(cfg, record, actor)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if bearerToken(r) == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return s.optionalSession(w, r)
}

// optionalSession returns an empty session for anonymous requests. A token
// that is present but invalid is rejected rather than downgraded.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, true
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logFor(r).WithError(err).Error("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps err to a response. Server errors are logged with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logFor(r).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) logFor(r *http.Request) logrus.FieldLogger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return s.log.WithField("request_id", id)
	}
	return s.log
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		defer func() {
			if recovered := recover(); recovered != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetTag("request_id", requestID)
				hub.Recover(recovered)
				s.log.WithFields(logrus.Fields{
					"request_id": requestID,
					"panic":      fmt.Sprint(recovered),
				}).Error("handler panicked")
				if !writer.wrote {
					writeError(writer, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
				}
			}
			s.log.WithFields(logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      writer.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Info("request")
		}()

		next.ServeHTTP(writer, r)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wrote = true
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func recordID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return 0, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	query := r.URL.Query()
	for _, param := range []struct {
		name   string
		target *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := strings.TrimSpace(query.Get(param.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", param.name+" must be an integer", nil)
			return 0, 0, false
		}
		*param.target = parsed
	}
	return limit, offset, true
}

// statusFilter parses ?status=a,b using the entity's words or canonical names.
func statusFilter(w http.ResponseWriter, r *http.Request, cfg lifecycle.EntityConfig) ([]lifecycle.Status, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil, true
	}
	var statuses []lifecycle.Status
	for _, word := range strings.Split(raw, ",") {
		status, ok := cfg.Vocabulary.Parse(word)
		if !ok {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q for %s", strings.TrimSpace(word), cfg.Type), nil)
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func boolParam(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a boolean", nil)
		return nil, false
	}
	return &parsed, true
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"kind":         session.Kind,
		"accountId":    session.AccountID,
		"name":         session.Name,
		"role":         session.Role,
		"permissions":  session.Permissions,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func pagePayload(cfg lifecycle.EntityConfig, page lifecycle.Page, actor lifecycle.Actor) map[string]any {
	return map[string]any{
		"items":  presentRecords(cfg, page.Items, actor),
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}
}

func presentRuns(runs []store.RegenerationRun) []map[string]any {
	items := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		items = append(items, map[string]any{
			"id":          run.ID,
			"trigger":     run.Trigger,
			"entity":      run.Entity,
			"recordId":    run.RecordID,
			"status":      run.Status,
			"sitemapUrls": run.SitemapURLs,
			"commitHash":  run.CommitHash,
			"error":       run.Error,
			"startedAt":   run.StartedAt,
			"finishedAt":  run.FinishedAt,
		})
	}
	return items
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	switch lifecycle.ErrorKind(err) {
	case lifecycle.KindValidation:
		var verr *lifecycle.ValidationError
		errors.As(err, &verr)
		return http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", map[string]any{"fields": verr.Fields}
	case lifecycle.KindAccessDenied:
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case lifecycle.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case lifecycle.KindInvalidTransition:
		var ierr *lifecycle.InvalidTransitionError
		errors.As(err, &ierr)
		return http.StatusConflict, "INVALID_TRANSITION", ierr.Reason, map[string]any{
			"action": ierr.Action,
			"from":   ierr.From,
		}
	case lifecycle.KindStorage:
		return http.StatusInternalServerError, "STORAGE_ERROR", "Storage failure", nil
	}

	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case store.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
