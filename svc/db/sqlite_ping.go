package db

import (
	"context"
	"sync/atomic"
)

func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

// CircuitState is reported by /ready.
func (s *SQLite) CircuitState() string {
	switch atomic.LoadInt32(&s.circuitState) {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	}
	return "closed"
}
