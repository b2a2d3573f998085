package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// HTTPClient implements FleetClient, and the rest of the REST API, over HTTP/JSON.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ FleetClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Agents ---

func (c *HTTPClient) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return c.ListAgentsByStatus(ctx, "")
}

// ListAgentsByStatus lists agents, optionally filtered by status.
func (c *HTTPClient) ListAgentsByStatus(ctx context.Context, status string) ([]*model.Agent, error) {
	path := "/v1/agents"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Agents []*model.Agent `json:"agents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *HTTPClient) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var agent model.Agent
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *HTTPClient) Register(ctx context.Context, req *RegisterRequest) (*model.Agent, error) {
	var resp struct {
		Status string       `json:"status"`
		Agent  *model.Agent `json:"agent"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agents", req, &resp); err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

func (c *HTTPClient) View(ctx context.Context, limit int) (*model.AggregatedView, error) {
	path := "/v1/view"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var view model.AggregatedView
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// --- Commands ---

// SubmitCommand returns the result together with an *APIError when the
// command was stored but could not be published.
func (c *HTTPClient) SubmitCommand(ctx context.Context, req *CommandRequest) (*CommandResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/v1/commands", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusBadGateway {
		return nil, apiError(status, body)
	}
	var res CommandResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if status == http.StatusBadGateway {
		return &res, &APIError{StatusCode: status, Message: res.Error}
	}
	return &res, nil
}

func (c *HTTPClient) ListCommands(ctx context.Context, agentID string, limit int) ([]*model.Command, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/commands"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Commands []*model.Command `json:"commands"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// PullPendingCommands fetches the agent's pending commands. The server
// marks each returned command sent.
func (c *HTTPClient) PullPendingCommands(ctx context.Context, agentID string) ([]*model.Command, error) {
	var resp struct {
		Commands []*model.Command `json:"commands"`
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/commands/pending"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// SubmitReport posts a raw report envelope to the direct channel.
func (c *HTTPClient) SubmitReport(ctx context.Context, envelope json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/reports", envelope, nil)
}

// --- Tactics ---

func (c *HTTPClient) ListTactics(ctx context.Context) ([]*model.Tactic, error) {
	var resp struct {
		Tactics []*model.Tactic `json:"tactics"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/tactics", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tactics, nil
}

func (c *HTTPClient) SetTactic(ctx context.Context, pattern string, action model.Action, score float64) (*model.Tactic, error) {
	body := map[string]any{"response_action": action, "score": score}
	var t model.Tactic
	if err := c.doJSON(ctx, http.MethodPut, "/v1/tactics/"+url.PathEscape(pattern), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) DeleteTactic(ctx context.Context, pattern string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/tactics/"+url.PathEscape(pattern), nil, nil)
}

// --- Deadman ---

func (c *HTTPClient) DeadmanStatus(ctx context.Context) (*deadman.Status, error) {
	var st deadman.Status
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deadman", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) ResetDeadman(ctx context.Context) (*deadman.Status, error) {
	var st deadman.Status
	if err := c.doJSON(ctx, http.MethodPost, "/v1/deadman/reset", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func apiError(status int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	status, respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return apiError(status, respBody)
	}
	if result != nil && status != http.StatusNoContent {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
