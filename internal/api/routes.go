package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Run audit routes
	api.HandleFunc("/runs", handler.ListRuns).Methods("GET")
	api.HandleFunc("/runs", handler.RequestRun).Methods("POST")
	api.HandleFunc("/runs/{run_id}", handler.GetRun).Methods("GET")

	// Warehouse routes
	api.HandleFunc("/securities", handler.GetSecurities).Methods("GET")
	api.HandleFunc("/prices/{symbol}", handler.GetPrices).Methods("GET")
	api.HandleFunc("/returns/{symbol}", handler.GetReturns).Methods("GET")
	api.HandleFunc("/volatility/{symbol}", handler.GetVolatility).Methods("GET")

	return r
}
