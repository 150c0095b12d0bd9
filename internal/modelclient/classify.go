package modelclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// ClassifyHTTP maps a provider HTTP status code and transport error into
// the closed ErrorKind taxonomy (spec §4.C). It is the single source of
// truth the retry loop consults.
func ClassifyHTTP(statusCode int, transportErr error) *schema.FlowError {
	if transportErr != nil {
		return classifyTransportError(transportErr)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return schema.NewErrorf(schema.ErrModelInvocationThrottle, "provider returned 429: rate limited")
	case statusCode >= 500:
		return schema.NewErrorf(schema.ErrModelInvocationTransient, "provider returned %d", statusCode)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden, statusCode == http.StatusNotFound:
		return schema.NewErrorf(schema.ErrModelInvocationFatal, "provider returned %d", statusCode)
	case statusCode >= 400:
		return schema.NewErrorf(schema.ErrModelInvocationFatal, "provider returned %d", statusCode)
	default:
		return nil
	}
}

func classifyTransportError(err error) *schema.FlowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrModelInvocationTransient, "request timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCancelled, "request cancelled").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return schema.NewError(schema.ErrModelInvocationTransient, "network error").WithCause(err)
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused", "connection reset", "broken pipe", "eof",
		"i/o timeout", "no such host", "temporary failure",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return schema.NewError(schema.ErrModelInvocationTransient, "transport error").WithCause(err)
		}
	}

	return schema.NewError(schema.ErrModelInvocationFatal, "unrecoverable transport error").WithCause(err)
}
