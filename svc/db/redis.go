package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"ctrlv/cfg"
	"ctrlv/pkg/domain"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	statsPrefix    = "ctrlv:ratelimit"
	statsBucketTTL = 24 * time.Hour
)

// Redis is an optional shared sink for limiter statistics. Limiter state
// itself never lives here.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(ctx context.Context, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(c.Environment)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	r := &Redis{client: client, timeout: c.RedisTimeout}
	if r.timeout <= 0 {
		r.timeout = 2 * time.Second
	}
	if err := r.Ping(ctx); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return r, nil
}
func buildRedisTLSConfig(env string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	redisHostname := os.Getenv("REDIS_HOSTNAME")
	if redisHostname == "" {
		return nil, fmt.Errorf("REDIS_HOSTNAME must be set when REDIS_TLS=true")
	}
	tlsConfig.ServerName = redisHostname
	certPath := os.Getenv("REDIS_TLS_CA_CERT")
	if certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
		return tlsConfig, nil
	}
	if env == "production" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = systemPool
	}
	return tlsConfig, nil
}

// Record counts one limiter decision into a cumulative total, a per-minute
// bucket and a per-limiter hash. Client keys are not stored.
func (r *Redis) Record(ctx context.Context, d domain.LimitDecision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if d.Allowed {
		field = "allowed"
	}
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, statsPrefix+":total", field, 1)
	bucketKey := fmt.Sprintf("%s:minute:%s", statsPrefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	pipe.Expire(ctx, bucketKey, statsBucketTTL)
	if d.Limiter != "" {
		pipe.HIncrBy(ctx, statsPrefix+":limiter", d.Limiter+":"+field, 1)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "record limiter stats")
}

// Totals returns the cumulative allowed and denied counts.
func (r *Redis) Totals(ctx context.Context) (allowed, denied int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vals, err := r.client.HMGet(ctx, statsPrefix+":total", "allowed", "denied").Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "read limiter stats")
	}
	return toInt64(vals[0]), toInt64(vals[1]), nil
}
func toInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscan(s, &n)
	return n
}
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
