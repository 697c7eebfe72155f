package web

// errors.go turns classified failures into responses.
//
// Every error is logged with the request ID and then rendered in the
// format the client asked for: JSON for .json requests and JSON clients,
// the error.html page otherwise.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error"`
	Status int     `json:"status"`
	Title  *string `json:"title"`
	Code   string  `json:"code,omitempty"`
}

// respondError logs err and writes it in the negotiated format. format is
// the request's output format when known.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, format string) {
	e := core.Classify(err)
	userMsg := core.MapError(err)

	message := e.Message
	if e.Kind == core.KindUser {
		// Unclassified failures can carry driver internals.
		message = userMsg.Message
	}

	level := slog.LevelWarn
	if e.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", e.Status,
		"kind", e.Kind.String(),
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	s.cache.Apply(w.Header(), e.Status, 0)

	if format == core.FormatJSON || (format == "" && wantsJSON(r)) {
		respondErrorJSON(w, e, message, userMsg.Code)
		return
	}
	s.respondErrorHTML(w, r, e, message, userMsg.Code)
}

func respondErrorJSON(w http.ResponseWriter, e *core.Error, message, code string) {
	body := ErrorResponse{
		OK:     false,
		Error:  message,
		Status: e.Status,
		Code:   code,
	}
	if e.Title != "" {
		body.Title = &e.Title
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) respondErrorHTML(w http.ResponseWriter, r *http.Request, e *core.Error, message, code string) {
	data := map[string]any{
		"title":           e.Title,
		"status":          strconv.Itoa(e.Status),
		"error":           message,
		"message_is_html": e.MessageIsHTML,
		"code":            code,
		"version":         Version,
	}
	body, err := s.app.Templates.Render(r.Context(), []string{"error.html"}, data)
	if err != nil {
		slog.Error("render error page", "error", err)
		http.Error(w, message, e.Status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(e.Status)
	w.Write(body)
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
