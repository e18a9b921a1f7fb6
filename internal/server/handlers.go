// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type loginFailure struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Stack     string    `json:"stack,omitempty"`
}

type healthBody struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

type validationBody struct {
	Success    bool                      `json:"success"`
	RequestID  string                    `json:"requestId"`
	Timestamp  time.Time                 `json:"timestamp"`
	Validation schemas.ValidationSummary `json:"validation"`
	Cookies    []json.RawMessage         `json:"cookies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthBody{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Environment: s.cfg.Environment,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

// handleLogin runs a login. A POST body may override any of the configured
// credentials for this run.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := middleware.GetReqID(r.Context())
	log := s.logger.With(zap.String("request_id", requestID))

	var override schemas.Credentials
	if r.Method == http.MethodPost {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&override); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body", Message: err.Error()})
			return
		}
	}

	log.Info("Login requested.")
	cookies, err := s.svc.LoginToWeb(r.Context(), override)
	duration := time.Since(start)
	if err != nil {
		kind := apperr.KindOf(err)
		log.Error("Login failed.", zap.String("kind", kind.String()), zap.Duration("duration", duration), zap.Error(err))

		body := loginFailure{
			Error:     "Web login failed",
			Message:   err.Error(),
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
			Duration:  formatMillis(duration),
		}
		if !s.cfg.IsProduction() {
			body.Stack = apperr.StackOf(err)
		}
		s.writeJSON(w, apperr.HTTPStatus(kind), body)
		return
	}

	log.Info("Login completed.", zap.Int("cookies", len(cookies)), zap.Duration("duration", duration))
	if cookies == nil {
		cookies = []schemas.CookieRecord{}
	}
	s.writeJSON(w, http.StatusOK, cookies)
}

// handleValidateCookies checks the shape of submitted cookies. The body is
// either a JSON object or a JSON string holding one.
func (s *Server) handleValidateCookies(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body", Message: err.Error()})
		return
	}

	doc, ok := parseBody(raw)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body"})
		return
	}
	cookies := doc.Get("cookies")
	if !cookies.IsArray() {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "Invalid request body",
			Message: `Expected "cookies" array in request body`,
		})
		return
	}

	summary, valid := validateCookies(cookies.Array())
	s.logger.Debug("Cookies validated.",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("total", summary.Total),
		zap.Int("valid", summary.Valid),
	)
	s.writeJSON(w, http.StatusOK, validationBody{
		Success:    true,
		RequestID:  middleware.GetReqID(r.Context()),
		Timestamp:  time.Now().UTC(),
		Validation: summary,
		Cookies:    valid,
	})
}

func parseBody(raw []byte) (gjson.Result, bool) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return gjson.Result{}, true
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type != gjson.String {
		return doc, true
	}
	inner := doc.String()
	if strings.TrimSpace(inner) == "" {
		return gjson.Result{}, true
	}
	if !gjson.Valid(inner) {
		return gjson.Result{}, false
	}
	return gjson.Parse(inner), true
}

// validateCookies keeps the entries with a truthy name, value and domain.
// Duplicates are counted and returned as submitted.
func validateCookies(entries []gjson.Result) (schemas.ValidationSummary, []json.RawMessage) {
	summary := schemas.ValidationSummary{Total: len(entries)}
	valid := make([]json.RawMessage, 0, len(entries))
	for _, c := range entries {
		if !c.IsObject() || !truthy(c.Get("name")) || !truthy(c.Get("value")) || !truthy(c.Get("domain")) {
			continue
		}
		valid = append(valid, json.RawMessage(c.Raw))
		if truthy(c.Get("session")) {
			summary.Session++
		} else {
			summary.Persistent++
		}
	}
	summary.Valid = len(valid)
	summary.Invalid = summary.Total - summary.Valid
	return summary, valid
}

// truthy follows JavaScript truthiness for a JSON value.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
