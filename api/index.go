package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"expense-tracker/app"
	"expense-tracker/internal/observability"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler serves every request of a serverless deployment. The runtime is
// built on first use; the lockout sweeper stays off and expired locks are
// cleared through /internal/maintenance/cleanup instead.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		logger := observability.NewLogger()
		apiRuntime, initErr = app.Build(app.Options{
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
			Logger:        logger,
		})
		if initErr != nil {
			logger.Error("bootstrap_failed", map[string]any{"error": initErr.Error()})
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
