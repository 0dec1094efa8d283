package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openresponses/gateway/pkg/protocol"
)

// errorBody is the JSON error envelope on non-2xx replies.
type errorBody struct {
	Error *protocol.ResponseError `json:"error"`
}

func (s *Server) createResponse(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrInvalidInput, "invalid request body", err))
		return
	}

	if req.Stream {
		s.streamResponse(w, r, &req)
		return
	}

	resp, err := s.orchestrator.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamResponse serves the event sequence over SSE. Client disconnect cancels
// the request context, which cancels the loop.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, req *protocol.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, protocol.NewError(protocol.ErrInvalidInput, "streaming requires a flushable connection"))
		return
	}

	events, err := s.orchestrator.CreateStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		if err := event.WriteSSE(w); err != nil {
			slog.Debug("Client dropped SSE connection", "error", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) getResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.orchestrator.Retrieve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.orchestrator.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, protocol.NewError(protocol.ErrNotFound, "response "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"object":  "response.deleted",
		"deleted": true,
	})
}

func (s *Server) listInputItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	opts := protocol.ListInputItemsOptions{
		Order:  r.URL.Query().Get("order"),
		After:  r.URL.Query().Get("after"),
		Before: r.URL.Query().Get("before"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, protocol.NewError(protocol.ErrInvalidInput, "limit must be an integer"))
			return
		}
		opts.Limit = parsed
	}

	list, err := s.orchestrator.ListInputItems(r.Context(), id, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status, healthy := s.orchestrator.Health(r.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to write response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: protocol.AsResponseError(err)})
}

// statusFor maps gateway error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch protocol.KindOf(err) {
	case protocol.ErrInvalidInput, protocol.ErrBadArguments:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrTooManyToolCalls:
		return http.StatusBadRequest
	case protocol.ErrTimeout:
		return http.StatusGatewayTimeout
	case protocol.ErrUpstream:
		var gatewayErr *protocol.Error
		if errors.As(err, &gatewayErr) && gatewayErr.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
