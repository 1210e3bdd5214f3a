package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// httpListenerSource backs both the "http" and "webhook" source schemes: an
// http.Server routed through gorilla/mux, one message emitted per request.
// Both schemes register the same path-prefix route, so the wire contract
// (headers/method/path/body -> message) is identical.
type httpListenerSource struct {
	addr   string
	path   string
	route  string
	server *http.Server
}

func newHTTPSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	path := ep.Path
	if path == "" {
		path = "/"
	}
	return &httpListenerSource{addr: ep.Authority(), path: path, route: deps.Route}, nil
}

func (h *httpListenerSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	r := mux.NewRouter()
	r.PathPrefix(h.path).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		headers := make(map[string]any, len(req.Header))
		for k, v := range req.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		msg := message.New("http://"+h.addr+h.path, h.route, map[string]any{
			"method":  req.Method,
			"path":    req.URL.Path,
			"headers": headers,
			"body":    string(body),
		})
		if err := emit(req.Context(), msg); err != nil {
			http.Error(w, "route unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	h.server = &http.Server{Addr: h.addr, Handler: r}

	errCh := make(chan error, 1)
	go func() { errCh <- h.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return ferrors.SourceFatal(h.route, "endpoint.http.listen", err)
	}
}

func (h *httpListenerSource) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// httpSink POSTs (or uses the query `method=` override) the message body
// as JSON; non-2xx responses are DeliveryError.
type httpSink struct {
	url       string
	method    string
	client    *http.Client
	jwtSecret string
	route     string
}

func newHTTPSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	method := ep.Query.Get("method")
	if method == "" {
		method = http.MethodPost
	}
	return &httpSink{
		url:    ep.Raw,
		method: method,
		client: &http.Client{Timeout: 30 * time.Second},
		route:  deps.Route,
	}, nil
}

func newWebhookSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	s, err := newHTTPSink(ep, deps)
	if err != nil {
		return nil, err
	}
	hs := s.(*httpSink)
	hs.jwtSecret = ep.Query.Get("jwt_secret")
	return hs, nil
}

func (h *httpSink) Deliver(ctx context.Context, msg message.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return ferrors.Delivery(h.route, "endpoint.http.marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(body))
	if err != nil {
		return ferrors.Delivery(h.route, "endpoint.http.request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if h.jwtSecret != "" {
		token, err := signWebhookToken(h.jwtSecret, h.route)
		if err != nil {
			return ferrors.Delivery(h.route, "endpoint.webhook.jwt", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return ferrors.Delivery(h.route, "endpoint.http.deliver", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ferrors.Delivery(h.route, "endpoint.http.deliver", fmt.Errorf("non-2xx response: %d", resp.StatusCode))
	}
	return nil
}

func (h *httpSink) Stop(ctx context.Context) error { return nil }

func signWebhookToken(secret, route string) (string, error) {
	claims := jwt.MapClaims{
		"route": route,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
