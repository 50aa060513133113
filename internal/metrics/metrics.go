// Package metrics exposes the engine counters and LSDB size/age as
// Prometheus gauges, served over an optional `/metrics` HTTP
// endpoint.
//
// The promhttp.Handler-on-a-mux pattern is grounded on the pack's
// mpisat-qumo/cmd/qumo-relay main.go, which registers the default
// Prometheus handler alongside its health endpoints the same way.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kprusa/routingd/internal/engine"
	"github.com/kprusa/routingd/internal/lsdb"
)

// Registry bundles the Prometheus collectors this daemon exposes. One
// Registry serves one node.
type Registry struct {
	rx        prometheus.Gauge
	tx        prometheus.Gauge
	fwd       prometheus.Gauge
	dropDup   prometheus.Gauge
	dropTTL   prometheus.Gauge
	dropCycle prometheus.Gauge
	dropBad   prometheus.Gauge
	noRoute   prometheus.Gauge
	lsdbSize  prometheus.Gauge
	lsdbAge   prometheus.Gauge
}

// NewRegistry registers the gauges against the default Prometheus
// registerer, labeled by this node's id and routing proto.
func NewRegistry(selfID, proto string) *Registry {
	labels := prometheus.Labels{"id": selfID, "proto": proto}
	gauge := func(name, help string) prometheus.Gauge {
		return promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "routingd", Name: name, Help: help, ConstLabels: labels,
		})
	}

	return &Registry{
		rx:        gauge("engine_rx_total", "Packets received by the routing engine."),
		tx:        gauge("engine_tx_total", "Packets originated by the routing engine."),
		fwd:       gauge("engine_fwd_total", "Packets forwarded by the routing engine."),
		dropDup:   gauge("engine_drop_dup_total", "Packets dropped as duplicates."),
		dropTTL:   gauge("engine_drop_ttl_total", "Packets dropped for TTL expiry."),
		dropCycle: gauge("engine_drop_cycle_total", "Packets dropped for a detected cycle."),
		dropBad:   gauge("engine_drop_bad_total", "Packets dropped as malformed."),
		noRoute:   gauge("engine_no_route_total", "Sends/forwards dropped for lack of a route."),
		lsdbSize:  gauge("lsdb_entries", "Number of live origins in the link-state database."),
		lsdbAge:   gauge("lsdb_oldest_entry_seconds", "Age in seconds of the LSDB's oldest entry."),
	}
}

// counterSource is implemented by every engine variant.
type counterSource interface {
	Counters() engine.Counters
}

// lsdbSource is implemented by LinkState.
type lsdbSource interface {
	LSDB() *lsdb.LSDB
}

// Collect reads the current engine counters (and LSDB state, when present)
// into the registered gauges. Called on each `/metrics` scrape.
func (r *Registry) Collect(eng engine.Engine) {
	if cs, ok := eng.(counterSource); ok {
		c := cs.Counters()
		r.rx.Set(float64(c.RX))
		r.tx.Set(float64(c.TX))
		r.fwd.Set(float64(c.Fwd))
		r.dropDup.Set(float64(c.DropDup))
		r.dropTTL.Set(float64(c.DropTTL))
		r.dropCycle.Set(float64(c.DropCycle))
		r.dropBad.Set(float64(c.DropBad))
		r.noRoute.Set(float64(c.NoRoute))
	}

	if ls, ok := eng.(lsdbSource); ok {
		entries := ls.LSDB().Snapshot()
		r.lsdbSize.Set(float64(len(entries)))
		var oldest float64
		for _, e := range entries {
			if s := e.Age.Seconds(); s > oldest {
				oldest = s
			}
		}
		r.lsdbAge.Set(oldest)
	}
}

// Server serves the Prometheus exposition format on addr, refreshing the
// gauges from eng immediately before every scrape.
type Server struct {
	registry *Registry
	eng      engine.Engine
	http     *http.Server
}

// NewServer builds an HTTP server exposing `/metrics` on addr. Call
// ListenAndServe to start it and Shutdown to stop it (cmd/routerd's run
// owns its lifecycle alongside the console).
func NewServer(addr string, registry *Registry, eng engine.Engine) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		registry.Collect(eng)
		promhttp.Handler().ServeHTTP(w, req)
	})
	return &Server{registry: registry, eng: eng, http: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving `/metrics` until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
