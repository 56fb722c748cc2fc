package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_hostcache_hits_total",
		Help: "Total number of host cache hits",
	}, []string{"by"})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_hostcache_misses_total",
		Help: "Total number of host cache misses",
	})

	cacheRemovals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_hostcache_removals_total",
		Help: "Total number of host cache entries removed",
	}, []string{"reason"})

	cacheAdds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_hostcache_adds_total",
		Help: "Total number of host records added to the cache",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cacheRemovals)
	prometheus.MustRegister(cacheAdds)
}
