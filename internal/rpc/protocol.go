// Package rpc implements the request/response protocol between the gateway
// and the server running inside a backend container.
//
// Every call is a POST of a JSON body to /rpc/{method}. A response body is
// either {"ok": {...}} or {"err": "message"}; the err variant carries a
// backend (domain) failure and is never retried. Byte fields are base64
// strings and reports travel in the binary form of package model.
package rpc

// MaxBodySize bounds request and response bodies (1 GiB).
const MaxBodySize = 1 << 30

// Method names.
const (
	MethodExecute = "execute"
	MethodProve   = "prove"
	MethodVerify  = "verify"
)

// Route paths.
const (
	PathRPC    = "/rpc"
	PathHealth = "/health"
	PathInfo   = "/info"
)

// ExecuteRequest runs the program on an input. A missing Proofs field means
// no auxiliary proofs.
type ExecuteRequest struct {
	Stdin  []byte `json:"stdin"`
	Proofs []byte `json:"proofs,omitempty"`
}

// ExecuteResponse carries the committed values and the encoded
// ExecutionReport.
type ExecuteResponse struct {
	PublicValues []byte `json:"public_values"`
	Report       []byte `json:"report"`
}

// ProveRequest proves the program on an input with the given proof kind.
type ProveRequest struct {
	Stdin     []byte `json:"stdin"`
	Proofs    []byte `json:"proofs,omitempty"`
	ProofKind int    `json:"proof_kind"`
}

// ProveResponse carries the committed values, the proof bytes and the
// encoded ProvingReport.
type ProveResponse struct {
	PublicValues []byte `json:"public_values"`
	Proof        []byte `json:"proof"`
	Report       []byte `json:"report"`
}

// VerifyRequest verifies a proof of the given kind.
type VerifyRequest struct {
	Proof     []byte `json:"proof"`
	ProofKind int    `json:"proof_kind"`
}

// VerifyResponse carries the values the verified proof commits to.
type VerifyResponse struct {
	PublicValues []byte `json:"public_values"`
}

// Info describes the backend served by a server.
type Info struct {
	Name       string `json:"name"`
	SDKVersion string `json:"sdk_version"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// envelope is the result wrapper of every RPC response.
type envelope[T any] struct {
	Ok  *T      `json:"ok,omitempty"`
	Err *string `json:"err,omitempty"`
}

// errorResponse is the body of non-200 protocol failures.
type errorResponse struct {
	Error string `json:"error"`
}
