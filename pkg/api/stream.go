package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ProtocolError reports a malformed stream frame.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// StreamMessage posts a message and returns a channel of protocol frames.
// Frames arrive in wire order. The channel is closed when the stream ends,
// fails, or the context is cancelled; a client-side failure is delivered as
// a final frame with Err set.
func (c *Client) StreamMessage(ctx context.Context, req MessageRequest) (<-chan Frame, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/messages/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Dedicated client: the configured request timeout would kill a
	// long-lived stream. Cancellation rides on the request context.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	frames := make(chan Frame, c.streamBuffer)
	go c.readStream(ctx, resp.Body, frames)

	return frames, nil
}

// readStream splits the chunked body on newline boundaries and emits one
// frame per non-empty line. A trailing partial line at EOF is parsed as a
// final frame.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, frames chan<- Frame) {
	defer close(frames)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			frames <- Frame{Err: ctx.Err()}
			return
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			frames <- Frame{Err: &ProtocolError{Line: string(line), Err: err}}
			return
		}
		if frame.Type == "" {
			frames <- Frame{Err: &ProtocolError{Line: string(line), Err: fmt.Errorf("missing frame type")}}
			return
		}

		frames <- frame

		if frame.Type == FrameEnd || frame.Type == FrameError {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		// A cancelled transport surfaces here as a read error; report the
		// cancellation itself so the state machine can tell them apart.
		if ctx.Err() != nil {
			frames <- Frame{Err: ctx.Err()}
			return
		}
		frames <- Frame{Err: fmt.Errorf("stream reading error: %w", err)}
		return
	}

	if ctx.Err() != nil {
		frames <- Frame{Err: ctx.Err()}
	}
}
