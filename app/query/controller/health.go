package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.App.Gateway.Pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "database connection error"})
		return
	}

	status := map[string]string{"status": "ok"}
	if c.App.Redis != nil {
		if err := c.App.Redis.Health(ctx); err != nil {
			status["redis"] = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, status)
}
