package remote

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chartkit/chartsync/internal/config"
	"github.com/chartkit/chartsync/internal/events"
)

// ChangeHint is a lightweight server notification that new changes exist.
// It carries no payload; the coordinator pulls through the normal path.
type ChangeHint struct {
	Cursor     string    `json:"cursor,omitempty"`
	NotifiedAt time.Time `json:"notified_at"`
}

// Watcher listens on the store's change feed and surfaces hints. It is an
// optional accelerant: sync correctness never depends on it.
type Watcher struct {
	url    string
	token  string
	logger *events.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	hints chan ChangeHint
	done  chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWatcher creates a change-feed watcher.
func NewWatcher(cfg *config.RemoteConfig, logger *events.Logger) *Watcher {
	wsURL := cfg.BaseURL
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}

	return &Watcher{
		url:          wsURL + "/api/v1/sync/watch",
		token:        cfg.Token,
		logger:       logger.WithField("component", "change_watcher"),
		hints:        make(chan ChangeHint, 16),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes the feed connection and starts the read loop.
func (w *Watcher) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return nil
	}

	w.logger.WithField("url", w.url).Info("Connecting to change feed")

	headers := http.Header{}
	if w.token != "" {
		headers.Set("Authorization", "Bearer "+w.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
		}
		return &Error{Kind: KindNetwork, Err: err}
	}

	w.conn = conn
	go w.readLoop()
	go w.pingLoop()
	return nil
}

// Hints returns the hint channel. Closed when the watcher shuts down.
func (w *Watcher) Hints() <-chan ChangeHint {
	return w.hints
}

// Close tears down the connection.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *Watcher) readLoop() {
	defer func() {
		_ = w.Close()
		close(w.hints)
	}()

	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(w.pongTimeout + w.pingInterval))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(w.pongTimeout + w.pingInterval))
			return nil
		})

		var hint ChangeHint
		if err := conn.ReadJSON(&hint); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				w.logger.WithError(err).Warn("Change feed read error")
			}
			return
		}
		if hint.NotifiedAt.IsZero() {
			hint.NotifiedAt = time.Now()
		}

		select {
		case w.hints <- hint:
		case <-w.done:
			return
		default:
			// A pending hint already queued is enough; drop the rest.
		}
	}
}

func (w *Watcher) pingLoop() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.logger.WithError(err).Warn("Change feed ping failed")
				return
			}
		case <-w.done:
			return
		}
	}
}
