// Package livequote maintains a websocket connection to a streaming quote
// feed and exposes the latest tick through the ordinary fetchCurrentPrice
// poll contract, so a push transport can back a RefreshMode-live provider
// without the rest of the engine ever seeing anything but polls. Grounded
// on the teacher's tradernet MarketStatusWebSocket (reconnect backoff,
// thread-safe cache, cancellable connection context).
package livequote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/quantloop/refreshengine/internal/provider"
)

const (
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
	staleThreshold     = 5 * time.Minute
)

// Tick is one push update received from the feed.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	UpdatedAt time.Time
}

// Cache is a thread-safe store of the latest tick per symbol, kept current
// by a background websocket reader.
type Cache struct {
	url string
	log zerolog.Logger

	mu        sync.RWMutex
	ticks     map[string]Tick
	conn      *websocket.Conn
	connected bool

	stop chan struct{}
	once sync.Once
}

// New builds a cache and starts its background reader goroutine against
// url. Call Close to stop it.
func New(url string, log zerolog.Logger) *Cache {
	c := &Cache{
		url:   url,
		log:   log.With().Str("component", "livequote").Logger(),
		ticks: make(map[string]Tick),
		stop:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Get returns the latest tick for symbol, satisfying the CurrentPrice poll
// contract. The bool is false if no tick has been seen, or the last tick is
// older than staleThreshold.
func (c *Cache) Get(symbol string) (provider.CurrentPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	if !ok || time.Since(t.UpdatedAt) > staleThreshold {
		return provider.CurrentPrice{}, false
	}
	vol := t.Volume
	return provider.CurrentPrice{Price: t.Price, Volume: &vol}, true
}

// Close stops the background reader and closes the connection.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		}
		c.mu.Unlock()
	})
}

func (c *Cache) run() {
	delay := baseReconnectDelay
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.connectAndRead(); err != nil {
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("livequote connection lost, reconnecting")
		}

		select {
		case <-c.stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Cache) connectAndRead() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "reader stopped")

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return err
		}

		var msg struct {
			Symbol string  `json:"symbol"`
			Price  float64 `json:"price"`
			Volume int64   `json:"volume"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("livequote: dropped unparseable message")
			continue
		}

		c.mu.Lock()
		c.ticks[msg.Symbol] = Tick{Symbol: msg.Symbol, Price: msg.Price, Volume: msg.Volume, UpdatedAt: time.Now().UTC()}
		c.mu.Unlock()
	}
}

// Connected reports whether the background reader currently has a live
// connection.
func (c *Cache) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
