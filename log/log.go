package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	ErrorMsgLogField = "errorMsg"
	UserLogField     = "user"
	PeerLogField     = "peer"

	traceField = "logging.googleapis.com/trace"
)

type ctxKey struct{}

type traceKey struct{}

// attrSet holds handler attributes and the current group prefix.
type attrSet struct {
	attrs  []slog.Attr
	prefix string
}

func (a attrSet) withAttrs(attrs []slog.Attr) attrSet {
	newAttrs := make([]slog.Attr, len(a.attrs), len(a.attrs)+len(attrs))
	copy(newAttrs, a.attrs)
	for _, attr := range attrs {
		attr.Key = a.prefix + attr.Key
		newAttrs = append(newAttrs, attr)
	}
	return attrSet{attrs: newAttrs, prefix: a.prefix}
}

func (a attrSet) withGroup(name string) attrSet {
	if name == "" {
		return a
	}
	return attrSet{attrs: a.attrs, prefix: a.prefix + name + "."}
}

// payload flattens handler and record attributes into one map.
func (a attrSet) payload(r slog.Record) map[string]any {
	entry := make(map[string]any, len(a.attrs)+r.NumAttrs()+3)
	for _, attr := range a.attrs {
		entry[attr.Key] = value(attr.Value)
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry[a.prefix+attr.Key] = value(attr.Value)
		return true
	})
	return entry
}

func value(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, attr := range v.Group() {
			group[attr.Key] = value(attr.Value)
		}
		return group
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	}
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}

// severity maps slog levels onto Cloud Logging severity names.
func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// CloudLoggingHandler is a slog.Handler writing Google Cloud structured log lines.
type CloudLoggingHandler struct {
	attrSet
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
}

// NewCloudLoggingHandler creates a handler that writes JSON lines to w, skipping records below level.
func NewCloudLoggingHandler(w io.Writer, level slog.Leveler) *CloudLoggingHandler {
	if w == nil {
		w = os.Stdout
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &CloudLoggingHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *CloudLoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := h.payload(r)
	entry["severity"] = severity(r.Level)
	entry["message"] = r.Message
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	entry["time"] = t.Format(time.RFC3339Nano)
	if trace := TraceFromContext(ctx); trace != "" {
		entry[traceField] = trace
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(jsonData, '\n'))
	return err
}

func (h *CloudLoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CloudLoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CloudLoggingHandler{attrSet: h.withAttrs(attrs), mu: h.mu, w: h.w, level: h.level}
}

func (h *CloudLoggingHandler) WithGroup(name string) slog.Handler {
	return &CloudLoggingHandler{attrSet: h.withGroup(name), mu: h.mu, w: h.w, level: h.level}
}

// ParseLevel accepts debug, info, warn/warning and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TraceFromHeader turns an X-Cloud-Trace-Context header into a trace resource name.
func TraceFromHeader(projectID, header string) string {
	traceID, _, _ := strings.Cut(header, "/")
	if traceID == "" || projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/traces/" + traceID
}

func WithTrace(ctx context.Context, trace string) context.Context {
	if trace == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, trace)
}

func TraceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	trace, _ := ctx.Value(traceKey{}).(string)
	return trace
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.New(NewCloudLoggingHandler(os.Stdout, slog.LevelInfo))
}
