package endpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

func TestLogSink_WritesStringifiedBodyToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	ep, err := uri.Parse("log://"+path, uri.Env{})
	require.NoError(t, err)

	sink, err := newLogSink(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)
	defer sink.Stop(context.Background())

	msg := message.FromMap(map[string]any{"body": "hello"})
	require.NoError(t, sink.Deliver(context.Background(), msg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
