package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"iwitness/internal/ledger"
	"iwitness/pkg/canonical"
	"iwitness/pkg/platform/httputil"
)

type ledgerHandler struct {
	log    *ledger.Log
	logger *slog.Logger
}

func newLedgerHandler(log *ledger.Log, logger *slog.Logger) *ledgerHandler {
	return &ledgerHandler{log: log, logger: logger}
}

func (h *ledgerHandler) register(r chi.Router) {
	r.Get("/subjects/{subjectID}/events", h.handleHistory)
	r.Get("/subjects/{subjectID}/verify", h.handleVerifyChain)
}

type eventResponse struct {
	EventID      string          `json:"event_id"`
	SubjectID    string          `json:"subject_id"`
	EventType    string          `json:"event_type"`
	TimestampUTC string          `json:"timestamp_utc"`
	Payload      canonical.Value `json:"payload"`
	ActorID      string          `json:"actor_id,omitempty"`
	PrevHash     string          `json:"prev_hash,omitempty"`
	EventHash    string          `json:"event_hash"`
}

func fromEvent(e ledger.Event) eventResponse {
	return eventResponse{
		EventID:      e.EventID.String(),
		SubjectID:    e.SubjectID,
		EventType:    string(e.Type),
		TimestampUTC: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:      e.Payload,
		ActorID:      e.ActorID,
		PrevHash:     e.PrevHash,
		EventHash:    e.EventHash,
	}
}

func (h *ledgerHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	events, err := h.log.History(r.Context(), subjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, fromEvent(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"events":     out,
	})
}

func (h *ledgerHandler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	valid, err := h.log.VerifyChain(r.Context(), subjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"subject_id":  subjectID,
		"chain_valid": valid,
	})
}
