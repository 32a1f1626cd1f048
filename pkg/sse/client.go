package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Result is the terminal state of one consumed stream.
type Result struct {
	// Output is the accumulated text, including any in-band error text.
	// Preserved as-is when the transport fails mid-stream.
	Output string
	// Meta is the raw payload of the diagnostic meta event, if one was
	// sent before the first fragment.
	Meta string
	// ErrText is the payload of an in-band error event, empty on success.
	ErrText string
	// Done reports whether the stream ended with an explicit done event.
	Done bool
}

// Failed reports whether the stream carried an in-band error event.
func (r *Result) Failed() bool { return r.ErrText != "" }

// Client consumes one event stream per call, accumulating event payloads
// in arrival order into a single growing output value.
//
// The client never retries: on a transport-level failure the partial
// output accumulated so far is returned alongside the error, so callers
// can keep it on screen and let the user resubmit.
type Client struct {
	// HTTPClient is used for the streaming request. Defaults to a client
	// with no overall timeout, since streams are long-lived; cancellation
	// is driven by the caller's context.
	HTTPClient *http.Client
	// Token is the bearer credential attached to every request.
	Token string
	// OnUpdate, when set, is invoked after every event with the full
	// accumulated output (never a diff).
	OnUpdate func(full string)
}

// NewClient returns a Client presenting the given bearer credential.
func NewClient(token string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		Token:      token,
	}
}

// Stream opens one connection, consumes it to completion and returns the
// terminal state. A non-nil error means the transport itself failed
// (connection refused, reset mid-stream, non-200 status); in-band stream
// errors are reported through Result.ErrText instead.
func (c *Client) Stream(ctx context.Context, method, url string, body io.Reader) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "text/event-stream")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stream rejected: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	res := &Result{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		eventType string
		dataLines []string
		sawData   bool
	)

	dispatch := func() {
		if !sawData && eventType == "" {
			return
		}
		payload := strings.Join(dataLines, "\n")

		switch eventType {
		case EventMeta:
			res.Meta = payload
		case EventDone:
			res.Done = true
		case EventError:
			res.ErrText = payload
			res.Output += payload
		default:
			res.Output += payload
		}

		if c.OnUpdate != nil {
			c.OnUpdate(res.Output)
		}

		eventType = ""
		dataLines = nil
		sawData = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			dispatch()
			if res.Done {
				return res, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(line[len("data:"):]))
			sawData = true
		case strings.HasPrefix(line, "event:"):
			eventType = trimFieldValue(line[len("event:"):])
		case strings.HasPrefix(line, ":"):
			// Comment line, used by some servers as a keepalive.
		}
	}

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("stream interrupted: %w", err)
	}

	// Flush a trailing event if the server closed without a final blank line.
	dispatch()
	return res, nil
}

// trimFieldValue strips the single optional space after an SSE field colon.
func trimFieldValue(v string) string {
	return strings.TrimPrefix(v, " ")
}
