package log

import (
	"context"
	"log/slog"

	"cloud.google.com/go/logging"
)

// CloudClientHandler sends records through the Cloud Logging client instead of stdout.
type CloudClientHandler struct {
	attrSet
	logger *logging.Logger
	level  slog.Leveler
}

func NewCloudClientHandler(logger *logging.Logger, level slog.Leveler) *CloudClientHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &CloudClientHandler{logger: logger, level: level}
}

// NewCloudClient opens a Cloud Logging client for projectID and returns a handler for logID.
// The caller closes the client to flush buffered entries.
func NewCloudClient(ctx context.Context, projectID, logID string, level slog.Leveler) (*CloudClientHandler, *logging.Client, error) {
	client, err := logging.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return NewCloudClientHandler(client.Logger(logID), level), client, nil
}

func (h *CloudClientHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := h.payload(r)
	payload["message"] = r.Message
	h.logger.Log(logging.Entry{
		Timestamp: r.Time,
		Severity:  logging.ParseSeverity(severity(r.Level)),
		Payload:   payload,
		Trace:     TraceFromContext(ctx),
	})
	return nil
}

func (h *CloudClientHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CloudClientHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CloudClientHandler{attrSet: h.withAttrs(attrs), logger: h.logger, level: h.level}
}

func (h *CloudClientHandler) WithGroup(name string) slog.Handler {
	return &CloudClientHandler{attrSet: h.withGroup(name), logger: h.logger, level: h.level}
}
