package session

import (
	"context"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// FailureKind buckets a session backend failure into exactly one retry
// category.
type FailureKind string

const (
	// FailurePermission covers authorization denials. Retrying cannot
	// succeed without the user fixing credentials.
	FailurePermission FailureKind = "permission"

	// FailureConfiguration covers malformed or missing scope parameters.
	FailureConfiguration FailureKind = "configuration"

	// FailureTemporary covers network problems and timeouts.
	FailureTemporary FailureKind = "temporary"

	// FailureUnknown covers everything else; treated like temporary for
	// retry purposes.
	FailureUnknown FailureKind = "unknown"
)

// Retryable reports whether failures of this kind are retried automatically.
func (k FailureKind) Retryable() bool {
	return k == FailureTemporary || k == FailureUnknown
}

// Classify buckets an error from the session backend.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	switch {
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return FailurePermission
	case apierrors.IsBadRequest(err) || apierrors.IsInvalid(err):
		return FailureConfiguration
	case apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err),
		apierrors.IsServiceUnavailable(err) || apierrors.IsTooManyRequests(err):
		return FailureTemporary
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTemporary
	case isNetError(err):
		return FailureTemporary
	default:
		return FailureUnknown
	}
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
