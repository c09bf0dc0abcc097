package controller

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/archon-data/chainstate/app/query/types"
	"github.com/archon-data/chainstate/pkg/db"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")

	r.HandleFunc("/v1/protocol-types", c.HandleProtocolTypes).Methods("GET")

	r.HandleFunc("/v1/{chain}/blocks/{id}", c.HandleBlock).Methods("GET")
	r.HandleFunc("/v1/{chain}/storage/delta", c.HandleSlotsDelta).Methods("GET")
	r.HandleFunc("/v1/{chain}/contracts", c.HandleContracts).Methods("GET")
	r.HandleFunc("/v1/{chain}/contracts/{address}", c.HandleContract).Methods("GET")
	r.HandleFunc("/v1/{chain}/components", c.HandleComponents).Methods("GET")
	r.HandleFunc("/v1/{chain}/components/{id}/state", c.HandleComponentState).Methods("GET")
	r.HandleFunc("/v1/{chain}/components/{id}/balances", c.HandleComponentBalances).Methods("GET")
	r.HandleFunc("/v1/{chain}/state/delta", c.HandleStateDelta).Methods("GET")
	r.HandleFunc("/v1/{chain}/balances/delta", c.HandleBalanceDeltas).Methods("GET")
	r.HandleFunc("/v1/{chain}/tokens", c.HandleTokens).Methods("GET")

	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeStoreError maps gateway errors onto status codes: missing entities are
// 404, data-integrity failures are 502 (the store answered, but its answer
// cannot be decoded), everything else is 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case db.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case db.IsDecodeError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}
