package delivery

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voice_turn/internal/domain"
	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/Vovarama1992/voice_turn/internal/presentation"
	"github.com/goccy/go-json"
)

type TurnControl interface {
	Toggle()
	Cancel()
	CurrentState() domain.TurnState
	CurrentTurnID() uint64
}

type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]ports.JournalEntry, error)
}

type ViewSource interface {
	View() presentation.View
}

type Handler struct {
	ctrl    TurnControl
	journal JournalReader // nil: журнал выключен
	view    ViewSource
	log     *logger.ZapLogger
}

func NewHandler(ctrl TurnControl, journal JournalReader, view ViewSource, log *logger.ZapLogger) *Handler {
	return &Handler{
		ctrl:    ctrl,
		journal: journal,
		view:    view,
		log:     log,
	}
}

type stateResponse struct {
	State  domain.TurnState   `json:"state"`
	TurnID uint64             `json:"turn_id"`
	View   *presentation.View `json:"view,omitempty"`
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type acceptedResponse struct {
	Accepted string `json:"accepted"`
}

// Toggle и Cancel только ставят команду в очередь контроллера; состояние после
// перехода читается через /state или /ws.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Toggle()
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: "toggle"})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Cancel()
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: "cancel"})
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

func (h *Handler) Turns(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "list turns failed", Error: err, Service: "delivery"})
		http.Error(w, "failed to list turns", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []ports.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) state() stateResponse {
	resp := stateResponse{
		State:  h.ctrl.CurrentState(),
		TurnID: h.ctrl.CurrentTurnID(),
	}
	if h.view != nil {
		v := h.view.View()
		resp.View = &v
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
