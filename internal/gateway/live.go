package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"museu/internal/domain"
)

// liveConnected is the greeting the server sends once a subscriber is registered.
const liveConnected = "live.connected"

// Subscribe opens the live feed. It returns once the server has registered the
// connection, so no event committed afterwards is missed.
func (c *HTTP) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	if !c.Ready() {
		return nil, ErrUnavailable
	}
	header := http.Header{}
	switch {
	case c.BearerToken != "":
		header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		header.Set("X-Api-Key", c.APIKey)
	}
	target := c.endpoint("live")
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		rerr := &RemoteError{Op: "subscribe", Err: err}
		if resp != nil {
			rerr.StatusCode = resp.StatusCode
		}
		return nil, rerr
	}
	var hello domain.Event
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, &RemoteError{Op: "subscribe", Err: err}
	}
	if hello.Type != liveConnected {
		conn.Close()
		return nil, &RemoteError{Op: "subscribe", Err: fmt.Errorf("unexpected greeting %q", hello.Type)}
	}

	out := make(chan domain.Event, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt domain.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
