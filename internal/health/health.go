package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc wraps a ping function, e.g. redis Ping or pgxpool.Pool.Ping.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return checkFunc{name: name, fn: fn}
}

type Status struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HTTPHandler runs every checker and reports 503 if any fails.
func HTTPHandler(timeout time.Duration, checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(checkers) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			st.Checks = make(map[string]string, len(checkers))
			var failed []string
			for _, c := range checkers {
				if err := c.Check(ctx); err != nil {
					st.Checks[c.Name()] = err.Error()
					failed = append(failed, c.Name())
					continue
				}
				st.Checks[c.Name()] = "ok"
			}
			if len(failed) > 0 {
				sort.Strings(failed)
				st.OK = false
				st.Message = "unhealthy: " + joinNames(failed)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

func joinNames(names []string) string {
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

// NewRouter serves /healthz (liveness), /readyz (dependency checks) and
// /metrics on the ops port.
func NewRouter(reg prometheus.Gatherer, checkers ...Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", HTTPHandler(time.Second))
	r.Get("/readyz", HTTPHandler(2*time.Second, checkers...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
