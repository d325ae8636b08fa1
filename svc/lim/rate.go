package lim

import (
	"context"
	"ctrlv/cfg"
	"ctrlv/metrics"
	"ctrlv/pkg/domain"
	"ctrlv/svc/cache"
	"ctrlv/svc/util"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	LimiterCreate = "create"
	LimiterAPI    = "api"
	statsTimeout  = 100 * time.Millisecond
	statsBuffer   = 1024
)

// StatsRecorder receives limiter decisions from a single worker. Decisions
// arriving while its queue is full are dropped; counting never depends on it.
type StatsRecorder interface {
	Record(ctx context.Context, d domain.LimitDecision) error
}

type Result struct {
	Limiter   string
	Allowed   bool
	Limit     int
	Remaining int
	Window    time.Duration
	Reset     time.Time
}

// window is one key's fixed window. It opens on the key's first request and
// closes size later; rejected requests are not counted.
type window struct {
	start time.Time
	count int
}
type fixedWindow struct {
	name  string
	limit int
	size  time.Duration
	table *cache.LRU[window]
}

func newFixedWindow(name string, limit int, size time.Duration, maxKeys int) (*fixedWindow, error) {
	table, err := cache.NewLRU[window](maxKeys)
	if err != nil {
		return nil, err
	}
	return &fixedWindow{name: name, limit: limit, size: size, table: table}, nil
}
func (f *fixedWindow) take(key string, now time.Time) Result {
	res := Result{Limiter: f.name, Limit: f.limit, Window: f.size}
	f.table.Update(key, func(w window, ok bool) window {
		if !ok || !now.Before(w.start.Add(f.size)) {
			w = window{start: now}
		}
		if w.count < f.limit {
			w.count++
			res.Allowed = true
		}
		res.Remaining = f.limit - w.count
		res.Reset = w.start.Add(f.size)
		return w
	})
	return res
}

type Limiter struct {
	create         *fixedWindow
	api            *fixedWindow
	trustedProxies []string
	stats          StatsRecorder
	detector       *AnomalyDetector
	now            func() time.Time
	statsCh        chan domain.LimitDecision
	statsDone      chan struct{}
	quit           chan struct{}
	stopOnce       sync.Once
}
type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}
func WithStats(s StatsRecorder) Option {
	return func(l *Limiter) { l.stats = s }
}
func New(rc cfg.RateLimitCfg, trustedProxies []string, opts ...Option) (*Limiter, error) {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return nil, fmt.Errorf("invalid CIDR in trustedProxies: %s: %w", proxy, err)
			}
		} else if net.ParseIP(proxy) == nil {
			return nil, fmt.Errorf("invalid IP in trustedProxies: %s", proxy)
		}
	}
	if rc.CreateMax <= 0 || rc.APIMax <= 0 || rc.CreateWindow <= 0 || rc.APIWindow <= 0 {
		return nil, fmt.Errorf("rate limits and windows must be positive")
	}
	maxKeys := rc.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	create, err := newFixedWindow(LimiterCreate, rc.CreateMax, rc.CreateWindow, maxKeys)
	if err != nil {
		return nil, err
	}
	api, err := newFixedWindow(LimiterAPI, rc.APIMax, rc.APIWindow, maxKeys)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		create:         create,
		api:            api,
		trustedProxies: trustedProxies,
		detector:       NewAnomalyDetector(),
		now:            time.Now,
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.stats != nil {
		l.statsCh = make(chan domain.LimitDecision, statsBuffer)
		l.statsDone = make(chan struct{})
		go l.drainStats()
	}
	l.detector.Start()
	return l, nil
}

// Stop halts the anomaly detector and the stats worker. Queued decisions are
// discarded.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		l.detector.Stop()
		close(l.quit)
		if l.statsDone != nil {
			<-l.statsDone
		}
	})
}

// AllowCreate counts one paste creation for key against the creation window.
func (l *Limiter) AllowCreate(key string) (Result, error) {
	return l.take(l.create, key)
}

// AllowAPI counts one request for key against the general window.
func (l *Limiter) AllowAPI(key string) (Result, error) {
	return l.take(l.api, key)
}
func (l *Limiter) take(f *fixedWindow, key string) (Result, error) {
	now := l.now()
	res := f.take(key, now)
	l.record(domain.LimitDecision{Limiter: f.name, Key: key, Allowed: res.Allowed, At: now})
	if res.Allowed {
		return res, nil
	}
	metrics.RateLimitHits.WithLabelValues(f.name).Inc()
	return res, &domain.RateLimitError{
		Limiter: f.name,
		Limit:   f.limit,
		Window:  f.size,
		Reset:   res.Reset,
	}
}
func (l *Limiter) record(d domain.LimitDecision) {
	if l.stats == nil {
		return
	}
	select {
	case l.statsCh <- d:
	default:
		metrics.RateLimitStatsDropped.Inc()
	}
}
func (l *Limiter) drainStats() {
	defer close(l.statsDone)
	for {
		select {
		case <-l.quit:
			return
		case d := <-l.statsCh:
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			err := l.stats.Record(ctx, d)
			cancel()
			if err != nil {
				util.Debug().Err(err).Str("limiter", d.Limiter).Msg("limiter stats unavailable")
			}
		}
	}
}
func (l *Limiter) Now() time.Time {
	return l.now()
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

// ClientKey is the identity both windows are keyed by.
func (l *Limiter) ClientKey(r *http.Request) string {
	return GetRealIP(r, l.trustedProxies)
}

// GetRealIP returns the peer address, or when the peer is a trusted proxy the
// right-most untrusted hop in X-Forwarded-For.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	hops := strings.Split(xff, ",")
	if len(hops) > maxIPsToParse {
		util.Warn().Int("hops", len(hops)).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
		hops = hops[len(hops)-maxIPsToParse:]
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(hops[i])
		if ipStr == "" {
			continue
		}
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	parsedIP := net.ParseIP(ip)
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") && parsedIP != nil {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil && subnet.Contains(parsedIP) {
				return true
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
