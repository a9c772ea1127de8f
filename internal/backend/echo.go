package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eth-act/ere/internal/model"
)

// ErrEmptyInput is returned by Echo when the input stdin is empty.
var ErrEmptyInput = errors.New("empty input")

// ErrInvalidProof is returned by Echo for proofs it did not produce.
var ErrInvalidProof = errors.New("invalid proof")

var echoProofTag = []byte("echo")

// Echo is a reference backend that commits its stdin as public values. Its
// proofs are the tag, the proof kind and the stdin. It backs the test server
// and the RPC tests.
type Echo struct {
	Program model.SerializedProgram
}

var _ Backend = (*Echo)(nil)

// NewEcho is a Factory for Echo.
func NewEcho(_ model.Resource, program model.SerializedProgram) (Backend, error) {
	return &Echo{Program: program}, nil
}

func (e *Echo) Execute(ctx context.Context, in model.Input) (model.PublicValues, model.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.ExecutionReport{}, err
	}
	if len(in.Stdin) == 0 {
		return nil, model.ExecutionReport{}, ErrEmptyInput
	}
	start := time.Now()
	report := model.ExecutionReport{
		TotalCycles: uint64(len(in.Stdin)),
		RegionCycles: []model.RegionCycles{
			{Name: "program", Cycles: uint64(len(e.Program))},
		},
	}
	report.ExecutionDuration = time.Since(start)
	return append(model.PublicValues(nil), in.Stdin...), report, nil
}

func (e *Echo) Prove(ctx context.Context, in model.Input, kind model.ProofKind) (model.PublicValues, model.Proof, model.ProvingReport, error) {
	start := time.Now()
	pv, _, err := e.Execute(ctx, in)
	if err != nil {
		return nil, model.Proof{}, model.ProvingReport{}, err
	}
	proof := make([]byte, 0, len(echoProofTag)+1+len(pv))
	proof = append(proof, echoProofTag...)
	proof = append(proof, byte(kind))
	proof = append(proof, pv...)
	return pv, model.Proof{Kind: kind, Bytes: proof}, model.ProvingReport{ProvingDuration: time.Since(start)}, nil
}

func (e *Echo) Verify(ctx context.Context, proof model.Proof) (model.PublicValues, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rest, ok := bytes.CutPrefix(proof.Bytes, echoProofTag)
	if !ok || len(rest) == 0 {
		return nil, ErrInvalidProof
	}
	if model.ProofKind(rest[0]) != proof.Kind {
		return nil, fmt.Errorf("%w: proof kind %s does not match %s", ErrInvalidProof, model.ProofKind(rest[0]), proof.Kind)
	}
	return append(model.PublicValues(nil), rest[1:]...), nil
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) SDKVersion() string { return "0.0.0" }
