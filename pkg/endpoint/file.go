package endpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// fileSource emits one message per currently-matching file on start, then
// watches the glob's directory with fsnotify for newly created matches.
// Per design, this is OS-level watch semantics with an explicit initial
// snapshot, not periodic re-scanning.
type fileSource struct {
	glob  string
	route string
}

func newFileSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	glob := ep.Path
	if glob == "" {
		return nil, ferrors.Configf("endpoint.file", "file source requires a path/glob")
	}
	return &fileSource{glob: glob, route: deps.Route}, nil
}

func (f *fileSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	matches, err := filepath.Glob(f.glob)
	if err != nil {
		return ferrors.SourceFatal(f.route, "endpoint.file.glob", err)
	}
	for _, path := range matches {
		msg, err := f.messageFor(path)
		if err != nil {
			continue
		}
		if err := emit(ctx, msg); err != nil {
			return nil
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.SourceFatal(f.route, "endpoint.file.watch", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.glob)
	if err := watcher.Add(dir); err != nil {
		return ferrors.SourceFatal(f.route, "endpoint.file.watch", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return ferrors.SourceFatal(f.route, "endpoint.file.watch", errWatcherClosed)
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			matched, err := filepath.Match(f.glob, ev.Name)
			if err != nil || !matched {
				continue
			}
			msg, err := f.messageFor(ev.Name)
			if err != nil {
				continue
			}
			if err := emit(ctx, msg); err != nil {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return ferrors.SourceFatal(f.route, "endpoint.file.watch", errWatcherClosed)
			}
			return ferrors.SourceFatal(f.route, "endpoint.file.watch", err)
		}
	}
}

func (f *fileSource) messageFor(path string) (message.Message, error) {
	info, err := os.Stat(path)
	if err != nil {
		return message.Message{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return message.Message{}, err
	}

	fields := map[string]any{
		"path":          path,
		"size":          info.Size(),
		"content_bytes": content,
	}
	if utf8.Valid(content) {
		fields["content_utf8"] = string(content)
	}

	return message.New("file://"+f.glob, f.route, fields), nil
}

func (f *fileSource) Stop(ctx context.Context) error { return nil }

var errWatcherClosed = errors.New("file watcher channel closed")

// fileSink writes a message's body to the configured path, creating parent
// directories, and generating a filename when the path ends with "/".
type fileSink struct {
	path  string
	route string
}

func newFileSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	path := ep.Path
	if path == "" {
		return nil, ferrors.Configf("endpoint.file", "file sink requires a path")
	}
	return &fileSink{path: path, route: deps.Route}, nil
}

func (f *fileSink) Deliver(ctx context.Context, msg message.Message) error {
	target := f.path
	if strings.HasSuffix(target, "/") {
		target = filepath.Join(target, uuid.NewString()+".json")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ferrors.Delivery(f.route, "endpoint.file.mkdir", err)
	}
	if err := os.WriteFile(target, bodyBytes(msg), 0o644); err != nil {
		return ferrors.Delivery(f.route, "endpoint.file.write", err)
	}
	return nil
}

func (f *fileSink) Stop(ctx context.Context) error { return nil }
