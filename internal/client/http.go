package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// Actor headers understood by the server.
const (
	headerActorID   = "X-Actor-ID"
	headerActorType = "X-Actor-Type"
	headerActorName = "X-Actor-Name"
)

// HTTPClient implements Client using the verification HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	actor      model.Actor
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request. Writes are attributed to actor.
func NewHTTPClient(baseURL, token string, actor model.Actor) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		actor:      actor,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Sessions ---

func (c *HTTPClient) CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.SessionDetail, error) {
	var d model.SessionDetail
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*model.SessionDetail, error) {
	var d model.SessionDetail
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Progress returns the completion percentage and transfer availability.
func (c *HTTPClient) Progress(ctx context.Context, id string) (*verify.ProgressReport, error) {
	var p verify.ProgressReport
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/progress", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, sessionID string) (*verify.TransferResult, error) {
	var res verify.TransferResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/transfer", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Items ---

func (c *HTTPClient) UpdateValue(ctx context.Context, itemID, value string) (*model.Item, error) {
	var it model.Item
	body := map[string]string{"value": value}
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/items/"+url.PathEscape(itemID)+"/value", body, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *HTTPClient) ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error) {
	var it model.Item
	body := map[string]bool{"checked": checked}
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/items/"+url.PathEscape(itemID)+"/verified", body, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// --- Leads ---

// LeadInfo resolves the customer name and lead vendor for a submission.
func (c *HTTPClient) LeadInfo(ctx context.Context, submissionID string) (*model.LeadInfo, error) {
	var info model.LeadInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v1/leads/"+url.PathEscape(submissionID)+"/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LeadAudit returns the call log for a submission, oldest first.
func (c *HTTPClient) LeadAudit(ctx context.Context, submissionID string) ([]*model.CallUpdate, error) {
	var resp struct {
		Updates []*model.CallUpdate `json:"updates"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/leads/"+url.PathEscape(submissionID)+"/audit", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Updates, nil
}

// --- Agents ---

// Roster returns the live agent roster.
func (c *HTTPClient) Roster(ctx context.Context) ([]RosterEntry, error) {
	var resp struct {
		Agents []RosterEntry `json:"agents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents/roster", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server. It unwraps to the
// matching model error so callers can use model.IsGate and friends.
type APIError struct {
	StatusCode int
	Message    string
	Progress   int
	Threshold  int
	Reasons    []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return model.AuthError(e.Message)
	case http.StatusNotFound:
		return &model.NotFoundError{Kind: "resource", ID: e.Message}
	case http.StatusConflict:
		return &model.GateError{Progress: e.Progress, Threshold: e.Threshold, Reasons: e.Reasons}
	}
	return nil
}

// setHeaders applies auth and actor headers to req.
func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor.ID != "" {
		req.Header.Set(headerActorID, c.actor.ID)
		req.Header.Set(headerActorType, string(c.actor.Type))
		if c.actor.Name != "" {
			req.Header.Set(headerActorName, c.actor.Name)
		}
	}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error     string   `json:"error"`
			Progress  int      `json:"progress"`
			Threshold int      `json:"threshold"`
			Reasons   []string `json:"reasons"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Progress = errResp.Progress
			apiErr.Threshold = errResp.Threshold
			apiErr.Reasons = errResp.Reasons
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
