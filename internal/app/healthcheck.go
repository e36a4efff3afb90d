package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// healthHandler answers liveness probes watching a long-running deployment.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("health check endpoint hit", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// StartHealthcheck serves /health on the given port until the app closes.
// Port 0 leaves the server off.
func (a *App) StartHealthcheck(port int) {
	if port <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	a.health = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		a.logger.Info("health check server starting", "addr", a.health.Addr)
		if err := a.health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("health check server failed", "error", err)
		}
	}()
}

func (a *App) closeHealthcheck() error {
	if a.health == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.health.Shutdown(ctx)
}
