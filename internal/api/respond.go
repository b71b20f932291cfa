package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/llm"
	"github.com/lexiqai/voice-notes/internal/pipeline"
	"github.com/lexiqai/voice-notes/internal/stt"
)

// statusClientClosedRequest marks a request the user cancelled.
const statusClientClosedRequest = 499

// response is the envelope of every API reply.
type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, response{Error: msg, Kind: apperr.KindConfig.String()})
}

// fail maps err onto a status code and the error envelope.
func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := apperr.KindOf(err).String()
	switch {
	case errors.Is(err, pipeline.ErrWrongSlot), errors.Is(err, pipeline.ErrChatActive), errors.Is(err, stt.ErrStreamActive):
		code = http.StatusConflict
		kind = "conflict"
	case errors.Is(err, llm.ErrPresetNotFound):
		code = http.StatusNotFound
	default:
		var e *apperr.Error
		if errors.As(err, &e) {
			switch e.Kind {
			case apperr.KindConfig:
				code = http.StatusBadRequest
			case apperr.KindTimeout:
				code = http.StatusGatewayTimeout
			case apperr.KindCancelled:
				code = statusClientClosedRequest
			case apperr.KindTransport, apperr.KindEmpty:
				code = http.StatusBadGateway
			}
		}
	}
	writeJSON(w, code, response{Error: err.Error(), Kind: kind})
}

// decode reads a JSON body into v, reporting malformed input as a 400.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
