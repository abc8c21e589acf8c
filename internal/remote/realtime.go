package remote

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// LiveFeed is the realtime subscription to an owner's remote mutations.
// Events arrive as the backend applies them; the feed reconnects with
// backoff after drops and ends only when its context is cancelled.
type LiveFeed struct {
	events chan Event
	done   chan struct{}
}

// Events returns the mutation event channel. It is closed when the feed's
// context is cancelled.
func (f *LiveFeed) Events() <-chan Event {
	return f.events
}

// Done is closed once the feed has fully shut down.
func (f *LiveFeed) Done() <-chan struct{} {
	return f.done
}

// NewLiveFeed adapts a caller-owned event channel into a LiveFeed whose
// lifetime is bound to ctx. Store implementations that do not dial the
// realtime endpoint (in-process backends, fakes) use it to satisfy
// Subscribe.
func NewLiveFeed(ctx context.Context, events <-chan Event) *LiveFeed {
	feed := &LiveFeed{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(feed.done)
		defer close(feed.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case feed.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return feed
}

// subscribeRequest is the first frame sent on every connection.
type subscribeRequest struct {
	Type        string   `json:"type"`
	OwnerID     string   `json:"owner_id"`
	Collections []string `json:"collections"`
}

// Subscribe implements Store.Subscribe. The feed dials the backend's
// realtime endpoint, announces the owner and collections of interest, and
// forwards decoded events until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, ownerID string, collections []string) (*LiveFeed, error) {
	wsURL, err := realtimeURL(c.endpoint, c.databaseID, c.apiKey)
	if err != nil {
		return nil, err
	}

	feed := &LiveFeed{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}

	go c.runFeed(ctx, feed, wsURL, ownerID, collections)
	return feed, nil
}

// runFeed is the reconnect loop. Backoff doubles from one second to a
// minute and resets after a healthy connection.
func (c *Client) runFeed(ctx context.Context, feed *LiveFeed, wsURL, ownerID string, collections []string) {
	defer close(feed.done)
	defer close(feed.events)

	const (
		minBackoff = time.Second
		maxBackoff = time.Minute
	)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		if !c.checker.Online() {
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}

		healthy, err := c.serveConnection(ctx, feed, wsURL, ownerID, collections)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Printf("Realtime connection lost: %v (retrying in %v)", err, backoff)
		}

		if healthy {
			backoff = minBackoff
		} else {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// serveConnection dials once, subscribes, and pumps events until the
// connection drops or ctx is cancelled. Returns true if the connection
// delivered at least one frame before dropping.
func (c *Client) serveConnection(ctx context.Context, feed *LiveFeed, wsURL, ownerID string, collections []string) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := subscribeRequest{
		Type:        "subscribe",
		OwnerID:     ownerID,
		Collections: collections,
	}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return false, err
	}

	healthy := false
	for {
		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return healthy, err
		}
		healthy = true

		select {
		case feed.events <- event:
		case <-ctx.Done():
			return healthy, ctx.Err()
		}
	}
}

// realtimeURL derives the websocket endpoint from the HTTP base URL.
func realtimeURL(endpoint, databaseID, apiKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/realtime"

	q := u.Query()
	q.Set("database", databaseID)
	if apiKey != "" {
		q.Set("key", apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sleepCtx waits d or until ctx is cancelled; returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
