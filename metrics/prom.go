package metrics
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)
var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_paste_retrieved_total",
		Help: "no. of successful paste lookups",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_paste_deleted_total",
		Help: "no. of pastes deleted on request",
	})
	SlugConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_slug_conflicts_total",
		Help: "no. of creates rejected because the custom URL was taken",
	})
	SearchQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_search_queries_total",
		Help: "no. of search queries served",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctrlv_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrlv_rate_limit_hits_total",
			Help: "no. of rate limit rejections",
		},
		[]string{"limiter"},
	)
	RateLimitStatsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_rate_limit_stats_dropped_total",
		Help: "no. of limiter decisions dropped because the stats queue was full",
	})
	ReaperCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_reaper_cycles_total",
		Help: "no. of reaper passes",
	})
	ReaperPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctrlv_reaper_purged_total",
		Help: "no. of expired pastes physically removed",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctrlv_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
