package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// JSONRPC performs JSON-RPC 2.0 calls over HTTP. It is the single transport
// implementation behind the balancer; deadlines come from the caller's
// context.
type JSONRPC struct {
	client      *http.Client
	probeMethod string
	log         *logger.Logger
	idSeq       uint64
}

// NewJSONRPC creates an HTTP JSON-RPC transport. probeMethod is the method
// used for lightweight health probes.
func NewJSONRPC(probeMethod string, log *logger.Logger) *JSONRPC {
	return &JSONRPC{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		probeMethod: probeMethod,
		log:         log.TransportLogger(),
	}
}

type rpcEnvelope struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Call performs one JSON-RPC call against the endpoint URL
func (t *JSONRPC) Call(ctx context.Context, url string, req domain.Request) (*domain.Response, error) {
	result, err := t.post(ctx, url, req.Method, req.Params)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, apperrors.NewTransportError(url, result.Error)
	}
	return &domain.Response{Result: result.Result}, nil
}

// Probe performs a lightweight availability check. An endpoint that answers
// the JSON-RPC envelope is considered alive even when it does not implement
// the probe method.
func (t *JSONRPC) Probe(ctx context.Context, url string) (time.Duration, error) {
	start := time.Now()
	_, err := t.post(ctx, url, t.probeMethod, nil)
	return time.Since(start), err
}

func (t *JSONRPC) post(ctx context.Context, url, method string, params []interface{}) (*rpcResult, error) {
	envelope := rpcEnvelope{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&t.idSeq, 1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, apperrors.NewTransportError(url, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewTransportError(url, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.NewTimeoutError(url, err)
		}
		return nil, apperrors.NewTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewTransportError(url,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result rpcResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if isTimeout(err) {
			return nil, apperrors.NewTimeoutError(url, err)
		}
		return nil, apperrors.NewTransportError(url, err)
	}

	t.log.WithField("endpoint", url).
		WithField("method", method).
		WithField("status_code", resp.StatusCode).
		Debug("RPC request completed")
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
