package picchu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// SetupEventStream switches w to server-sent events and returns a function
// that writes one event per call.
func SetupEventStream(w http.ResponseWriter) (func(ctx context.Context, event any) error, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return func(ctx context.Context, event any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		jsonData, err := json.Marshal(event)
		if err != nil {
			return err
		}
		sseData := fmt.Sprintf("data: %s\n\n", jsonData)
		if _, err := w.Write([]byte(sseData)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, nil
}
