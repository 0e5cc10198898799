package gate

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by HybridGate.Authorize. Every denial wraps
// ErrUnauthorized so callers can test a single value.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNoProfile         = fmt.Errorf("%w: no profile assigned", ErrUnauthorized)
	ErrPermissionDenied  = fmt.Errorf("%w: missing permission", ErrUnauthorized)
	ErrPolicyDenied      = fmt.Errorf("%w: denied by resource policy", ErrUnauthorized)
	ErrInvalidPermission = errors.New("invalid permission format")
)
