package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"setupwiz/internal/adapter/authority/wire"
	"setupwiz/internal/domain"
)

// Listen connects to the server's event stream and hands every event to fn
// until ctx is cancelled or the connection drops.
func (c *Client) Listen(ctx context.Context, fn domain.EventHandler) error {
	u, err := c.eventsURL()
	if err != nil {
		return err
	}
	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return domain.Unavailable("httpclient.Listen", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	c.logger.Info("event stream connected", "url", u)

	for {
		var ev domain.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return domain.Unavailable("httpclient.Listen", err)
		}
		fn(ctx, ev)
	}
}

// Follow keeps Listen running, reconnecting after retry, until ctx ends.
func (c *Client) Follow(ctx context.Context, retry time.Duration, fn domain.EventHandler) {
	for {
		err := c.Listen(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("event stream lost, reconnecting", "in", retry, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.base + wire.PathEvents)
	if err != nil {
		return "", domain.NewDomainError("httpclient.eventsURL", domain.ErrInvalidInput, err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
