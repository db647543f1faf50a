package market

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-core/internal/events"
)

// Feed streams sentiment updates from an external scoring service over a
// websocket and republishes them on the event bus.
type Feed struct {
	url    string
	bus    *events.Bus
	dialer *websocket.Dialer
	log    zerolog.Logger

	// Backoff between reconnect attempts.
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewFeed builds a sentiment feed client for the given websocket URL.
func NewFeed(url string, bus *events.Bus, log zerolog.Logger) *Feed {
	return &Feed{
		url:        url,
		bus:        bus,
		dialer:     websocket.DefaultDialer,
		log:        log.With().Str("component", "sentiment_feed").Logger(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run connects and re-connects until ctx is cancelled. Each received frame
// is decoded as an Update and published as an EventSentiment.
func (f *Feed) Run(ctx context.Context) {
	backoff := f.minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := f.stream(ctx)
		if connected {
			// A successful dial ends the failure streak.
			backoff = f.minBackoff
		}
		if err != nil {
			f.log.Warn().Err(err).Dur("retry_in", backoff).Msg("feed disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

// stream runs one connection lifetime. The bool reports whether the dial
// itself succeeded, regardless of how the connection ended.
func (f *Feed) stream(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}
	defer stop()

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		stop()
	}()

	f.log.Info().Str("url", f.url).Msg("sentiment feed connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return true, nil
			}
			return true, err
		}

		var update Update
		if err := json.Unmarshal(msg, &update); err != nil {
			f.log.Warn().Err(err).Msg("bad feed frame")
			continue
		}
		if update.Sentiment.Symbol == "" {
			continue
		}
		if update.Sentiment.Timestamp.IsZero() {
			update.Sentiment.Timestamp = time.Now()
		}
		f.bus.Publish(events.EventSentiment, update)
	}
}
