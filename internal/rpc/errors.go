package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// DomainError is a failure reported by the backend itself. Its message is
// passed through verbatim.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return "backend error: " + e.Message
}

// TransportKind classifies transport failures.
type TransportKind int

const (
	// Connectivity failures mean the server could not be reached or the
	// connection broke; the call may be retried.
	Connectivity TransportKind = iota + 1
	// Protocol failures mean the server answered with something unusable.
	Protocol
)

func (k TransportKind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// TransportError is a non-domain RPC failure.
type TransportError struct {
	Kind TransportKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is a connectivity TransportError.
func IsConnectivity(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == Connectivity
}

// IsDomain reports whether err is a DomainError.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// connectivityErrnos are the socket errors that mean the peer is gone.
var connectivityErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EPIPE,
}

// isConnectivity decides from structured error values whether a transport
// failure means the server is unreachable.
func isConnectivity(err error) bool {
	for _, errno := range connectivityErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func classify(op string, err error) *TransportError {
	kind := Protocol
	if isConnectivity(err) {
		kind = Connectivity
	}
	return &TransportError{Kind: kind, Op: op, Err: err}
}
