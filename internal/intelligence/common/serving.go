package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
)

// ServingConfig configures a KServe v2 (Open Inference Protocol) endpoint.
type ServingConfig struct {
	BaseURL    string
	ModelName  string
	InputName  string
	OutputName string
	Timeout    time.Duration
}

type v2Tensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type v2InferRequest struct {
	ID      string     `json:"id,omitempty"`
	Inputs  []v2Tensor `json:"inputs"`
	Outputs []struct {
		Name string `json:"name"`
	} `json:"outputs,omitempty"`
}

type v2InferResponse struct {
	ModelName    string     `json:"model_name"`
	ModelVersion string     `json:"model_version,omitempty"`
	Outputs      []v2Tensor `json:"outputs"`
	Error        string     `json:"error,omitempty"`
}

// ServingBackend is a ModelBackend that forwards tensors to a remote server.
type ServingBackend struct {
	cfg    ServingConfig
	client *http.Client
	logger logging.Logger
	closed atomic.Bool
}

// NewServingBackend validates cfg and builds a client.
func NewServingBackend(cfg ServingConfig, logger logging.Logger) (*ServingBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: serving base URL is required", ErrInvalidInput)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: serving model name is required", ErrInvalidInput)
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ServingBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (b *ServingBackend) modelURL(suffix string) string {
	return fmt.Sprintf("%s/v2/models/%s%s", b.cfg.BaseURL, b.cfg.ModelName, suffix)
}

// Run posts one inference request and returns the selected output.
func (b *ServingBackend) Run(ctx context.Context, input *Tensor) (*Tensor, error) {
	if b.closed.Load() {
		return nil, ErrBackendClosed
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(v2InferRequest{
		Inputs: []v2Tensor{{Name: b.cfg.InputName, Shape: input.Shape, Datatype: "FP32", Data: input.Data}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode infer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.modelURL("/infer"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServingUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read infer response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrModelNotDeployed, b.cfg.ModelName)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrServingUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("infer %s: status %d: %s", b.cfg.ModelName, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out v2InferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode infer response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("infer %s: %s", b.cfg.ModelName, out.Error)
	}

	b.logger.Debug("remote inference",
		logging.String("model", b.cfg.ModelName),
		logging.Duration("latency", time.Since(start)))

	for _, o := range out.Outputs {
		if b.cfg.OutputName == "" || o.Name == b.cfg.OutputName {
			return NewTensor(o.Shape, o.Data)
		}
	}
	return nil, fmt.Errorf("infer %s: output %q missing from response", b.cfg.ModelName, b.cfg.OutputName)
}

// Healthy checks the model readiness endpoint.
func (b *ServingBackend) Healthy(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBackendClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.modelURL("/ready"), nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServingUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s ready returned %d", ErrServingUnavailable, b.cfg.ModelName, resp.StatusCode)
	}
	return nil
}

func (b *ServingBackend) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.client.CloseIdleConnections()
	}
	return nil
}

// ServerReady checks the server-wide readiness endpoint of a v2 server.
func ServerReady(ctx context.Context, client *http.Client, baseURL string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v2/health/ready", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServingUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: server ready returned %d", ErrServingUnavailable, resp.StatusCode)
	}
	return nil
}
