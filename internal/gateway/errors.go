package gateway

import (
	"context"
	"errors"

	"github.com/eth-act/ere/internal/image"
	"github.com/eth-act/ere/internal/rpc"
	"github.com/eth-act/ere/internal/session"
)

// ErrClosed is returned by calls on a closed Gateway.
var ErrClosed = errors.New("gateway closed")

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindBuild        ErrorKind = "build"
	KindLaunch       ErrorKind = "launch"
	KindConnectivity ErrorKind = "connectivity"
	KindProtocol     ErrorKind = "protocol"
	KindDomain       ErrorKind = "domain"
	KindCanceled     ErrorKind = "canceled"
	KindClosed       ErrorKind = "closed"
	KindUnknown      ErrorKind = "unknown"
)

// Classify returns the kind of err. A nil err has kind "".
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		be *image.BuildError
		le *session.LaunchError
		de *rpc.DomainError
		te *rpc.TransportError
	)
	// Launch errors may wrap the transport error of the last health check.
	switch {
	case errors.As(err, &be):
		return KindBuild
	case errors.As(err, &le):
		return KindLaunch
	case errors.As(err, &de):
		return KindDomain
	case errors.As(err, &te):
		if te.Kind == rpc.Connectivity {
			return KindConnectivity
		}
		return KindProtocol
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
