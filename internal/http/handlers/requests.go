package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reqgateway/gateway/internal/cancellation"
	"github.com/reqgateway/gateway/internal/orchestrator"
	"github.com/reqgateway/gateway/internal/requestlog"
)

// sendRequestBody is the wire shape of POST /v1/requests.
type sendRequestBody struct {
	Subject         string          `json:"subject" validate:"required"`
	Payload         json.RawMessage `json:"payload" validate:"required"`
	ResponseSubject *string         `json:"responseSubject,omitempty"`
	ResponseIDField *string         `json:"responseIdField,omitempty"`
	TimeoutSeconds  *int64          `json:"timeoutSeconds,omitempty" validate:"omitempty,gt=0"`
}

type sendRequestResponse struct {
	RequestID string `json:"requestId"`
}

type requestLogResponse struct {
	RequestID        string          `json:"requestId"`
	Subject          string          `json:"subject"`
	Status           string          `json:"status"`
	RequestTimestamp string          `json:"requestTimestamp"`
	ResponsePayload  json.RawMessage `json:"responsePayload,omitempty"`
	ErrorMessage     *string         `json:"errorMessage,omitempty"`
}

// RequestsHandler implements the /v1/requests HTTP surface.
type RequestsHandler struct {
	orchestrator *orchestrator.Orchestrator
	store        requestlog.Store
	cancelSet    *cancellation.Set
	validate     *validator.Validate
	log          *slog.Logger
}

// NewRequestsHandler constructs a RequestsHandler.
func NewRequestsHandler(orch *orchestrator.Orchestrator, store requestlog.Store, cancelSet *cancellation.Set, log *slog.Logger) *RequestsHandler {
	return &RequestsHandler{orchestrator: orch, store: store, cancelSet: cancelSet, validate: validator.New(), log: log}
}

// SendRequest handles POST /v1/requests.
func (h *RequestsHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (body.ResponseSubject == nil) != (body.ResponseIDField == nil) {
		writeError(w, http.StatusBadRequest, "responseSubject and responseIdField must be set together")
		return
	}

	requestID, err := h.orchestrator.SendRequest(r.Context(), orchestrator.SendParams{
		Subject:         body.Subject,
		Payload:         body.Payload,
		ResponseSubject: body.ResponseSubject,
		ResponseIDField: body.ResponseIDField,
		TimeoutSeconds:  body.TimeoutSeconds,
	})
	if err != nil {
		h.log.Error("send request failed", slog.String("error", err.Error()))
		captureHandlerError("requests", "send", requestID, err)
		if requestID == "" {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusAccepted, sendRequestResponse{RequestID: requestID})
}

// GetRequest handles GET /v1/requests/{requestId}.
func (h *RequestsHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	rec, err := h.store.FindByRequestID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, requestlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.log.Error("find request failed", slog.String("error", err.Error()))
		captureHandlerError("requests", "get", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, requestLogResponse{
		RequestID:        rec.RequestID,
		Subject:          rec.Subject,
		Status:           string(rec.Status),
		RequestTimestamp: rec.RequestTimestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		ResponsePayload:  rec.ResponsePayload,
		ErrorMessage:     rec.ErrorMessage,
	})
}

// CancelRequest handles POST /v1/requests/{requestId}/cancel.
func (h *RequestsHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	rec, err := h.store.FindByRequestID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, requestlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.log.Error("find request failed", slog.String("error", err.Error()))
		captureHandlerError("requests", "cancel", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, requestLogResponse{RequestID: rec.RequestID, Status: string(rec.Status)})
		return
	}

	if err := h.cancelSet.Cancel(r.Context(), requestID); err != nil {
		h.log.Error("cancel failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		captureHandlerError("requests", "cancel", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": requestID, "status": "cancellation_requested"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
