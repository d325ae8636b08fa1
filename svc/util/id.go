package util

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GenID returns a random 128-bit (v4) identifier.
func GenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return id.String(), nil
}
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return ""
}
func NewRequestID() string {
	return uuid.New().String()
}
