package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"peerclass/pkg/interfaces"
)

// LocalRuntimeFactory creates engines backed by an offline model runtime on
// localhost speaking the Ollama-style generate API. One engine maps to one
// HTTP client whose idle connections are dropped on Close, so nothing
// carries over between tasks.
type LocalRuntimeFactory struct {
	BaseURL string
	Model   string
}

var _ interfaces.EngineFactory = (*LocalRuntimeFactory)(nil)

// New allocates a fresh engine.
func (f *LocalRuntimeFactory) New(ctx context.Context) (interfaces.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &localEngine{
		baseURL: f.BaseURL,
		model:   f.Model,
		// Grading tasks are long and user-visible; no request timeout here,
		// cancellation comes from the task context.
		client: &http.Client{},
	}, nil
}

// Ping checks the runtime is reachable, for startup diagnostics before a
// session advertises grading.
func (f *LocalRuntimeFactory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("model runtime unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

type localEngine struct {
	baseURL string
	model   string
	client  *http.Client
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (e *localEngine) Generate(ctx context.Context, input interfaces.GenerateInput) (string, error) {
	reqBody := generateRequest{Model: e.model, Prompt: input.Prompt, Stream: false}
	for _, img := range input.Images {
		reqBody.Images = append(reqBody.Images, base64.StdEncoding.EncodeToString(img))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model runtime request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("model runtime returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

func (e *localEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
