package control

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Response is sent back for every request line.
type Response struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when Status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the daemon accepted the request.
func (r Response) OK() bool { return r.Status == "ok" }

// Send delivers one event to the daemon at socketPath and returns its
// response. A daemon-side failure is returned as an error carrying the
// daemon's message.
func Send(socketPath string, ev Event, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := MarshalEvent(ev)
	if err != nil {
		return Response{}, fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return Response{}, fmt.Errorf("send event: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK() {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
