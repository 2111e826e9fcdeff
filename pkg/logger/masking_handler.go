package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

type maskRule int

const (
	maskSecret  maskRule = iota + 1 // replaced entirely
	maskContent                     // user-written text, logged by length
)

// maskedKeys match an attribute key exactly or as its last "_" segment, so
// "bot_token" is masked like "token".
var maskedKeys = map[string]maskRule{
	"password":      maskSecret,
	"token":         maskSecret,
	"secret":        maskSecret,
	"api_key":       maskSecret,
	"authorization": maskSecret,
	"dsn":           maskSecret,
	"response_text": maskContent,
	"message_text":  maskContent,
}

// MaskingHandler masks secrets and user text in attributes and adds the correlation ID.
type MaskingHandler struct {
	next slog.Handler
}

func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		masked = append(masked, maskAttr(attr))
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)

	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(maskAttr(attr))
		return true
	})

	if id := CorrelationIDFromContext(ctx); id != "" {
		masked.AddAttrs(slog.String("correlation_id", id))
	}

	return h.next.Handle(ctx, masked)
}

func maskAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		masked := make([]slog.Attr, 0, len(group))
		for _, a := range group {
			masked = append(masked, maskAttr(a))
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(masked...)}
	}

	switch ruleFor(attr.Key) {
	case maskSecret:
		attr.Value = slog.StringValue("***")
	case maskContent:
		n := utf8.RuneCountInString(attr.Value.String())
		attr.Value = slog.StringValue(fmt.Sprintf("[%d chars]", n))
	}

	return attr
}

func ruleFor(key string) maskRule {
	key = strings.ToLower(key)
	if rule, ok := maskedKeys[key]; ok {
		return rule
	}
	if i := strings.LastIndexByte(key, '_'); i >= 0 {
		if rule := maskedKeys[key[i+1:]]; rule == maskSecret {
			return rule
		}
	}
	return 0
}
