package web

import (
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/propstage/internal/logging"
	"github.com/JonMunkholm/propstage/internal/pipeline"
)

// ErrorResponse is the JSON body of every error. Code and Action come from
// pipeline.Describe; Run is set when a run was started and failed.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Action  string              `json:"action,omitempty"`
	Code    string              `json:"code"`
	Run     *pipeline.RunResult `json:"run,omitempty"`
}

var msgBadRequest = pipeline.UserMessage{
	Code:    "REQ001",
	Message: "Invalid request",
	Action:  "Send a JSON body with dataset, mode (replace, append, dedup) and selection (latest, all)",
}

// statusFor maps a message code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "REQ001", "KEY002", "COL001", "KEY001":
		return http.StatusBadRequest
	case "DS001":
		return http.StatusNotFound
	case "FILE001", "FILE002", "FILE003":
		return http.StatusUnprocessableEntity
	case "RUN001":
		return http.StatusConflict
	case "RUN003":
		return http.StatusGatewayTimeout
	case "DB005", "DB006":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err with request context and writes its coded message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, run *pipeline.RunResult) {
	s.respondMessage(w, r, pipeline.Describe(err), err, run)
}

func (s *Server) respondMessage(w http.ResponseWriter, r *http.Request, msg pipeline.UserMessage, err error, run *pipeline.RunResult) {
	status := statusFor(msg.Code)
	logging.Enrich(r.Context(), s.logger).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", errString(err),
		"code", msg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Run:     run,
	})
}

// writeJSON encodes v as JSON with status 200.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Enrich(r.Context(), s.logger).Warn("json encode error", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
