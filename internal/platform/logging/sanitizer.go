package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	sensitiveKeyParts = []string{"token", "secret", "password", "passphrase", "authorization", "private_key"}
	payloadKeys       = map[string]struct{}{
		"payload": {},
		"body":    {},
		"frame":   {},
	}
)

// SanitizingHandler keeps message payloads and credentials out of logs.
// Payload attributes are replaced by their size, credential-like keys are
// redacted.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAttrs(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	switch {
	case isSensitiveKey(lowerKey):
		return slog.String(key, redactedValue)
	case isPayloadKey(lowerKey):
		return slog.Int(key+"_bytes", payloadSize(attr.Value))
	case attr.Value.Kind() == slog.KindGroup:
		return slog.Attr{Key: key, Value: slog.GroupValue(sanitizeAttrs(attr.Value.Group())...)}
	default:
		return attr
	}
}

func sanitizeAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return out
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isPayloadKey(key string) bool {
	_, ok := payloadKeys[key]
	return ok
}

func payloadSize(v slog.Value) int {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return len(v.String())
	case slog.KindAny:
		switch raw := v.Any().(type) {
		case []byte:
			return len(raw)
		case fmt.Stringer:
			return len(raw.String())
		}
	}
	return len(v.String())
}
