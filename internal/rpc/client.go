package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eth-act/ere/internal/model"
)

// Client calls a server over HTTP. It is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a Client for the server at endpoint, for example
// "http://127.0.0.1:4181". A nil hc uses a client without timeout; calls
// are bounded by their context.
func NewClient(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{endpoint: strings.TrimSuffix(endpoint, "/"), http: hc}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Health returns nil once the server answers its health route.
func (c *Client) Health(ctx context.Context) error {
	var resp healthResponse
	return c.get(ctx, "health", PathHealth, &resp)
}

// Info returns the backend descriptor.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := c.get(ctx, "info", PathInfo, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Execute runs the program on input.
func (c *Client) Execute(ctx context.Context, input model.Input) (model.PublicValues, model.ExecutionReport, error) {
	resp, err := call[ExecuteRequest, ExecuteResponse](ctx, c, MethodExecute, ExecuteRequest{
		Stdin:  input.Stdin,
		Proofs: input.Proofs,
	})
	if err != nil {
		return nil, model.ExecutionReport{}, err
	}
	report, err := model.DecodeExecutionReport(resp.Report)
	if err != nil {
		return nil, model.ExecutionReport{}, &TransportError{Kind: Protocol, Op: MethodExecute, Err: err}
	}
	return resp.PublicValues, report, nil
}

// Prove proves the program on input.
func (c *Client) Prove(ctx context.Context, input model.Input, kind model.ProofKind) (model.PublicValues, model.Proof, model.ProvingReport, error) {
	resp, err := call[ProveRequest, ProveResponse](ctx, c, MethodProve, ProveRequest{
		Stdin:     input.Stdin,
		Proofs:    input.Proofs,
		ProofKind: int(kind),
	})
	if err != nil {
		return nil, model.Proof{}, model.ProvingReport{}, err
	}
	report, err := model.DecodeProvingReport(resp.Report)
	if err != nil {
		return nil, model.Proof{}, model.ProvingReport{}, &TransportError{Kind: Protocol, Op: MethodProve, Err: err}
	}
	return resp.PublicValues, model.Proof{Kind: kind, Bytes: resp.Proof}, report, nil
}

// Verify verifies proof and returns the values it commits to.
func (c *Client) Verify(ctx context.Context, proof model.Proof) (model.PublicValues, error) {
	resp, err := call[VerifyRequest, VerifyResponse](ctx, c, MethodVerify, VerifyRequest{
		Proof:     proof.Bytes,
		ProofKind: int(proof.Kind),
	})
	if err != nil {
		return nil, err
	}
	return resp.PublicValues, nil
}

// call posts req to /rpc/{method} and unwraps the result envelope.
func call[Req, Resp any](ctx context.Context, c *Client, method string, req Req) (Resp, error) {
	var zero Resp

	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("marshal %s request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+PathRPC+"/"+method, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	data, err := c.do(ctx, method, httpReq)
	if err != nil {
		return zero, err
	}

	var env envelope[Resp]
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, &TransportError{Kind: Protocol, Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Err != nil {
		return zero, &DomainError{Message: *env.Err}
	}
	if env.Ok == nil {
		return zero, &TransportError{Kind: Protocol, Op: method, Err: errors.New("response has neither ok nor err")}
	}
	return *env.Ok, nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	data, err := c.do(ctx, op, httpReq)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Kind: Protocol, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do sends req and returns the body of a 200 response. Context errors are
// returned as is so they are never mistaken for connectivity failures.
func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rpc %s: %w", op, ctxErr)
		}
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rpc %s: %w", op, ctxErr)
		}
		return nil, classify(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, &TransportError{Kind: Protocol, Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}
	return data, nil
}
