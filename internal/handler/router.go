package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/photocredit/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса photocredit.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Recoverer(h.logger))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/billing", func(r chi.Router) {
		// Подпись события проверяется в обработчике, cookie не нужен.
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Optional)

			r.Get("/confirm", h.Confirm)
			r.Get("/me", h.Me)
			r.Get("/products", h.Products)
			r.Get("/purchases", h.Purchases)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}

			r.Post("/create-checkout", h.CreateCheckout)
		})
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
