package rest

import (
	"net/http"
	"strconv"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/internal/transport/rest/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func portfolioIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "portfolioID"), 10, 64)
}

func NewRouter(cfg *config.Config, ctrl *Controller, sessions middleware.SessionStore) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", ctrl.RegisterUser)
		r.Post("/sessions", ctrl.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(sessions))

			r.Delete("/sessions", ctrl.Logout)
			r.Get("/portfolio", ctrl.GetPortfolioID)

			r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
				r.Get("/holdings", ctrl.GetHoldings)
				r.Post("/trades", ctrl.RecordTrade)
				r.Get("/transactions", ctrl.GetTransactions)
				r.Get("/history", ctrl.GetHistory)
				r.Post("/import", ctrl.ImportTrades)
				r.Post("/report", ctrl.GenerateReport)
			})

			r.Delete("/transactions/{transactionID}", ctrl.DeleteTransaction)
		})
	})

	return r
}
