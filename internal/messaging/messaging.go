// Package messaging serves the extension's request/response message
// channel over the session store.
package messaging

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"vault-core/internal/session"
	"vault-core/internal/storage"
)

// Message types.
const (
	TypeSetPin     = "SET_PIN"
	TypeGetPin     = "GET_PIN"
	TypeGetStarted = "GET_STARTED"
	TypeSetStarted = "SET_STARTED"
)

// ErrUnknownType is the error text for unrecognized messages.
const ErrUnknownType = "Unknown message type"

// Request is one inbound message. ID is echoed on the response so that
// websocket clients can match replies.
type Request struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Pin   string          `json:"pin,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Response carries only the fields relevant to the request type.
type Response struct {
	ID      string  `json:"id,omitempty"`
	Success *bool   `json:"success,omitempty"`
	Pin     *string `json:"pin,omitempty"`
	Started *bool   `json:"started,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Unlocker verifies a PIN and starts the session.
type Unlocker interface {
	Unlock(ctx context.Context, pin string) (session.Info, error)
}

// Handler answers messages.
type Handler struct {
	unlocker Unlocker
	session  *session.Manager
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(unlocker Unlocker, sess *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{unlocker: unlocker, session: sess, logger: logger.Named("messaging")}
}

// Handle answers req. It never returns a Go error: failures are reported
// in Response.Error.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}

	switch req.Type {
	case TypeSetPin:
		// The PIN only reaches session storage after it verifies.
		if _, err := h.unlocker.Unlock(ctx, req.Pin); err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Success = ptr(true)

	case TypeGetPin:
		pin, err := h.session.PIN()
		if err != nil {
			pin = ""
		}
		resp.Pin = &pin

	case TypeGetStarted:
		started := false
		if v, ok := h.session.Store().Get(storage.SessionKeyStarted); ok {
			started, _ = v.(bool)
		}
		resp.Started = &started

	case TypeSetStarted:
		var started bool
		if len(req.Value) > 0 {
			if err := json.Unmarshal(req.Value, &started); err != nil {
				resp.Error = "value must be a boolean"
				return resp
			}
		}
		h.session.Store().Set(storage.SessionKeyStarted, started)
		resp.Success = ptr(true)

	default:
		h.logger.Debug("unknown message", zap.String("type", req.Type))
		resp.Error = ErrUnknownType
	}
	return resp
}

func ptr[T any](v T) *T { return &v }
