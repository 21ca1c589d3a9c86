package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/prizeversity/prizeversity/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса Prizeversity.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/classroom", func(r chi.Router) {
			r.Post("/", h.CreateClassroom)
			r.Post("/join", h.JoinClassroom)

			r.Route("/{classroomID}", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetTransactions)
				r.Post("/ban", h.BanStudent)

				r.Post("/adjustments", h.Adjustments)
				r.Post("/adjustments/pending/{pendingID}/approve", h.ReviewPending(true))
				r.Post("/adjustments/pending/{pendingID}/discard", h.ReviewPending(false))

				r.Post("/groupsets", h.CreateGroupSet)
				r.Post("/groups", h.CreateGroup)

				r.Post("/bazaar/items", h.CreateBazaarItem)
				r.Post("/bazaar/boxes", h.CreateMysteryBox)
				r.Post("/bazaar/{itemID}/purchase", h.PurchaseItem)
				r.Post("/box/{itemID}/open", h.OpenBox)
			})
		})

		r.Route("/api/group/{groupID}", func(r chi.Router) {
			r.Post("/join", h.JoinGroup)
			r.Post("/members/{userID}/approve", h.ApproveGroupMember)
			r.Delete("/members/{userID}", h.LeaveGroup)

			r.Post("/siphon", h.CreateSiphon)
		})

		r.Route("/api/siphon/{siphonID}", func(r chi.Router) {
			r.Post("/vote", h.VoteSiphon)
			r.Post("/approve", h.DecideSiphon(true))
			r.Post("/reject", h.DecideSiphon(false))
		})

		r.Get("/ws/classroom/{classroomID}", h.Events)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
