package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/logging"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = apperr.Validation("INVALID_JSON", "Request body must be a JSON object")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// envelope is the shape of every JSON response.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: timestamp(),
	})
}

// writeError maps err onto the error taxonomy. Internal errors are logged with
// full detail; the detail only reaches the client in development.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := apperr.Classify(err)
	body := &errorBody{Code: c.Code, Message: c.Message}

	if c.Internal {
		s.logger.Error("unhandled error",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.RequestID(chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		if s.cfg.IsDevelopment() {
			body.Detail = err.Error()
		}
	}

	writeJSON(w, c.Status, envelope{
		Success:   false,
		Error:     body,
		Timestamp: timestamp(),
	})
}

// decodeBody reads a JSON object into a generic map. An empty body decodes to
// an empty map. Numbers stay as json.Number so validators can tell them apart
// from strings.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, errMalformedBody
	}
	if body == nil {
		return nil, errMalformedBody
	}
	return body, nil
}
