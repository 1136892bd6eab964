package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/relistly/agentbroker/internal/wire"
)

// Frame and Error are aliased so SDK consumers outside this module can
// name stream events and error codes without reaching into internal
// packages.
type (
	Frame = wire.Frame
	Error = wire.Error
)

// decodeError reconstructs the broker's wire error from a non-2xx
// response body of the form {"error": {code, message}}.
func decodeError(resp *http.Response) error {
	var body struct {
		Error *wire.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == nil {
		return &wire.Error{
			Status:  resp.StatusCode,
			Code:    wire.CodeAgentError,
			Message: fmt.Sprintf("unexpected response with status %d", resp.StatusCode),
		}
	}
	body.Error.Status = resp.StatusCode
	return body.Error
}

// Stream subscribes to the session's event feed. The returned channel
// closes when the session ends, the server shuts down, or ctx is
// cancelled; heartbeat comments are filtered out.
func (c *Client) Stream(ctx context.Context, sessionID string) (<-chan Frame, error) {
	endpoint := c.baseURL + "/v1/events/stream?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	frames := make(chan Frame, 16)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitSSE)

		for scanner.Scan() {
			frame, ok := parseFrame(scanner.Text())
			if !ok {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

// splitSSE tokenizes a byte stream into SSE events delimited by a
// blank line. Partial events at the tail are held back until the
// delimiter arrives.
func splitSSE(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseFrame extracts the JSON payload of one SSE event. Comment-only
// events (heartbeats) and unparseable payloads yield ok=false.
func parseFrame(event string) (wire.Frame, bool) {
	var payload strings.Builder
	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if data, found := strings.CutPrefix(line, "data:"); found {
			payload.WriteString(strings.TrimPrefix(data, " "))
		}
	}
	if payload.Len() == 0 {
		return wire.Frame{}, false
	}

	var frame wire.Frame
	if err := json.Unmarshal([]byte(payload.String()), &frame); err != nil {
		return wire.Frame{}, false
	}
	return frame, true
}
