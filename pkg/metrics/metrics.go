/*
Package metrics defines netevd's Prometheus instrumentation: hook-dispatch
outcome counters and policy-route churn counters, exposed over HTTP for
scraping when system.metrics_addr is configured. Disabled (no listener) by
default, since the daemon's hard engineering is the event-processing core,
not an observability surface.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HooksDispatchedTotal counts hook-program runs by backend state tag and
	// outcome (success, failure, timeout).
	HooksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netevd_hooks_dispatched_total",
			Help: "Total hook-program invocations by state tag and outcome",
		},
		[]string{"state", "outcome"},
	)

	// RoutesInstalledTotal counts default routes installed by the
	// policy-routing engine.
	RoutesInstalledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netevd_routes_installed_total",
			Help: "Total default routes installed by the policy-routing engine",
		},
	)

	// RoutesRemovedTotal counts default routes removed by the
	// policy-routing engine.
	RoutesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netevd_routes_removed_total",
			Help: "Total default routes removed by the policy-routing engine",
		},
	)

	// RulesInstalledTotal counts FROM/TO policy rules installed, labeled by
	// direction.
	RulesInstalledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netevd_rules_installed_total",
			Help: "Total policy rules installed by the policy-routing engine",
		},
		[]string{"direction"},
	)

	// RulesRemovedTotal counts FROM/TO policy rules removed, labeled by
	// direction.
	RulesRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netevd_rules_removed_total",
			Help: "Total policy rules removed by the policy-routing engine",
		},
		[]string{"direction"},
	)

	// PolicyRouteErrorsTotal counts failed kernel-transport calls made while
	// installing or tearing down policy routing, labeled by the operation
	// that failed.
	PolicyRouteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netevd_policy_route_errors_total",
			Help: "Total kernel-transport errors during policy-route install or teardown",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(HooksDispatchedTotal)
	prometheus.MustRegister(RoutesInstalledTotal)
	prometheus.MustRegister(RoutesRemovedTotal)
	prometheus.MustRegister(RulesInstalledTotal)
	prometheus.MustRegister(RulesRemovedTotal)
	prometheus.MustRegister(PolicyRouteErrorsTotal)
}

// Handler returns the HTTP handler that serves the registered metrics in
// the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
