package endpoint

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSource accepts WebSocket upgrades on the endpoint path and emits one
// message per received frame.
type wsSource struct {
	addr   string
	path   string
	route  string
	server *http.Server
}

func newWSSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	path := ep.Path
	if path == "" {
		path = "/"
	}
	return &wsSource{addr: ep.Authority(), path: path, route: deps.Route}, nil
}

func (w *wsSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	r := mux.NewRouter()
	r.HandleFunc(w.path, func(rw http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := message.New("ws://"+w.addr+w.path, w.route, map[string]any{"body": string(data)})
			if err := emit(ctx, msg); err != nil {
				return
			}
		}
	})

	w.server = &http.Server{Addr: w.addr, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- w.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return ferrors.SourceFatal(w.route, "endpoint.ws.listen", err)
	}
}

func (w *wsSource) Stop(ctx context.Context) error {
	if w.server == nil {
		return nil
	}
	return w.server.Shutdown(ctx)
}

// wsSink writes the message body as a text frame to a single connection.
// Since a sink has no inbound HTTP listener of its own, it dials out to the
// destination URI as a WebSocket client and keeps the connection open
// across deliveries, redialing on the next delivery after a write fails.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	url  string
}

func newWSSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	scheme := "ws"
	url := scheme + "://" + ep.Authority() + ep.Path
	return &wsSink{url: url}, nil
}

func (w *wsSink) Deliver(ctx context.Context, msg message.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			return ferrors.Delivery("", "endpoint.ws.dial", err)
		}
		w.conn = conn
	}

	if err := w.conn.WriteMessage(websocket.TextMessage, bodyBytes(msg)); err != nil {
		w.conn.Close()
		w.conn = nil
		return ferrors.Delivery("", "endpoint.ws.write", err)
	}
	return nil
}

func (w *wsSink) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
