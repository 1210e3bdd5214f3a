package endpoint

import (
	"encoding/json"

	"github.com/flowctl/flowctl/pkg/message"
)

// bodyBytes returns the explicit "body" field's bytes when present,
// otherwise the whole message JSON-serialized. Sinks that write "the
// message body" (file, log, mqtt, redis, ws) share this definition; the
// http sink instead sends the whole message as JSON.
func bodyBytes(msg message.Message) []byte {
	if msg.Has("body") {
		return msg.Bytes("body")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return b
}
