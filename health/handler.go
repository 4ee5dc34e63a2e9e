package health

import (
	"encoding/json"
	"net/http"
)

// Handler returns an http.Handler that runs the monitor's checks and reports
// the aggregate status as JSON. A healthy or degraded aggregate returns 200,
// an unhealthy aggregate returns 503.
func Handler(monitor *Monitor, component string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitor.RunChecks(r.Context())
		status := monitor.AggregateHealth(component)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
