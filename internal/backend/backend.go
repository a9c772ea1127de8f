package backend

import (
	"context"

	"github.com/eth-act/ere/internal/model"
)

// Backend is the interface every zkVM backend must implement. The RPC server
// forwards each request to one Backend bound to a single program.
type Backend interface {
	// Execute runs the program on in without proving.
	Execute(ctx context.Context, in model.Input) (model.PublicValues, model.ExecutionReport, error)

	// Prove runs the program on in and produces a proof of the given kind.
	Prove(ctx context.Context, in model.Input, kind model.ProofKind) (model.PublicValues, model.Proof, model.ProvingReport, error)

	// Verify checks proof and returns the public values it commits to.
	Verify(ctx context.Context, proof model.Proof) (model.PublicValues, error)

	// Name identifies the backend, usually its kind.
	Name() string

	// SDKVersion reports the version of the native SDK.
	SDKVersion() string
}

// Factory creates a Backend for a program on a compute resource.
type Factory func(res model.Resource, program model.SerializedProgram) (Backend, error)
