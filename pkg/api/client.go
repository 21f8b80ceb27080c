package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grovechat/grove/pkg/logger"
)

// Client talks to the persistence/LLM collaborator service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamBuffer int
	log          *logger.Logger
}

// NewClient creates a new client with the default timeout.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

// NewClientWithTimeout creates a new client with a custom request timeout.
// The timeout does not apply to streaming requests, which live until the
// stream ends or the context is cancelled.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamBuffer: 100,
		log:          logger.WithComponent("api_client"),
	}
}

// SetStreamBuffer overrides the frame channel capacity for streaming calls.
func (c *Client) SetStreamBuffer(n int) {
	if n > 0 {
		c.streamBuffer = n
	}
}

// CreateTree creates a new conversation tree. The server seeds it with a
// system root node.
func (c *Client) CreateTree(ctx context.Context, title *string) (Tree, error) {
	var tree Tree
	body := map[string]*string{"title": title}
	if err := c.doJSON(ctx, http.MethodPost, "/trees", body, &tree); err != nil {
		return Tree{}, err
	}
	return tree, nil
}

// ListTrees returns all conversation trees.
func (c *Client) ListTrees(ctx context.Context) ([]Tree, error) {
	var trees []Tree
	if err := c.doJSON(ctx, http.MethodGet, "/trees", nil, &trees); err != nil {
		return nil, err
	}
	return trees, nil
}

// RenameTree updates a tree's title; a nil title clears it.
func (c *Client) RenameTree(ctx context.Context, treeID string, title *string) (Tree, error) {
	var tree Tree
	body := map[string]*string{"title": title}
	path := fmt.Sprintf("/trees/%s", treeID)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &tree); err != nil {
		return Tree{}, err
	}
	return tree, nil
}

// DeleteTree removes a tree and, by server cascade, all of its nodes.
func (c *Client) DeleteTree(ctx context.Context, treeID string) error {
	path := fmt.Sprintf("/trees/%s", treeID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Path returns the ordered ancestor path from root to the given node.
func (c *Client) Path(ctx context.Context, nodeID string) ([]PathMessage, error) {
	var resp pathResponse
	path := fmt.Sprintf("/messages/path/%s", nodeID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Path, nil
}

// Graph returns the full node/edge set for a tree.
func (c *Client) Graph(ctx context.Context, treeID string) (Graph, error) {
	var graph Graph
	path := fmt.Sprintf("/messages/graph/%s", treeID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &graph); err != nil {
		return Graph{}, err
	}
	return graph, nil
}

// PostMessage is the non-streaming fallback; it blocks until the assistant
// reply is stored and returns the assistant node id.
func (c *Client) PostMessage(ctx context.Context, req MessageRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeleteMessage removes a node and, by server cascade, its descendants.
func (c *Client) DeleteMessage(ctx context.Context, nodeID string) error {
	path := fmt.Sprintf("/messages/%s", nodeID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ForkBranch creates a new tree rooted at a copy of the branch ending at
// nodeID.
func (c *Client) ForkBranch(ctx context.Context, nodeID string) (ForkResult, error) {
	var result ForkResult
	path := fmt.Sprintf("/messages/branch/%s/fork", nodeID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result); err != nil {
		return ForkResult{}, err
	}
	return result, nil
}

// doJSON performs a request with an optional JSON body and decodes the
// JSON response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeAPIError extracts a useful message from a non-2xx response.
func decodeAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d (failed to read error response: %w)", resp.StatusCode, err)
	}

	var errorResp struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &errorResp) == nil {
		if errorResp.Detail != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Detail)
		}
		if errorResp.Error != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Error)
		}
	}

	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}
