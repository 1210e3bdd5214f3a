package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

func TestHTTPSink_PostsJSONBodyAndSucceedsOn2xx(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ep, err := uri.Parse(srv.URL, uri.Env{})
	require.NoError(t, err)
	sink, err := newHTTPSink(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)

	msg := message.FromMap(map[string]any{"n": float64(21)})
	require.NoError(t, sink.Deliver(context.Background(), msg))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, float64(21), gotBody["n"])
}

func TestHTTPSink_NonTwoXXIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ep, err := uri.Parse(srv.URL, uri.Env{})
	require.NoError(t, err)
	sink, err := newHTTPSink(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)

	msg := message.FromMap(map[string]any{"n": float64(1)})
	err = sink.Deliver(context.Background(), msg)
	assert.Error(t, err)
}

func TestHTTPSink_MethodOverrideFromQuery(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep, err := uri.Parse(srv.URL+"?method=PUT", uri.Env{})
	require.NoError(t, err)
	sink, err := newHTTPSink(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), message.FromMap(map[string]any{})))
	assert.Equal(t, http.MethodPut, gotMethod)
}
