package handlers

import (
	"net/http"
	"time"
)

// Health reports liveness for the load balancer and the WebApp splash check.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
