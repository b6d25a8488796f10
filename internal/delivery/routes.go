package delivery

import (
	"time"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RegisterRoutes: пульт управления ходом. toggleLimit задаёт число запросов в минуту
// с одного IP на /toggle и /cancel; 0 отключает ограничение.
func RegisterRoutes(r chi.Router, h *Handler, hub *Hub, toggleLimit int) {
	r.With(httputil.RecoverMiddleware).Get("/ping", h.Ping)

	r.Route("/", func(pr chi.Router) {
		pr.Use(httputil.RecoverMiddleware)

		// --- ход ---
		pr.Group(func(cr chi.Router) {
			if toggleLimit > 0 {
				cr.Use(httprate.LimitByIP(toggleLimit, time.Minute))
			}
			cr.Post("/toggle", h.Toggle)
			cr.Post("/cancel", h.Cancel)
		})
		pr.Get("/state", h.State)

		// --- журнал ---
		pr.Get("/turns", h.Turns)

		// --- сигналы и экран ---
		pr.Get("/ws", hub.ServeWS)
	})
}
