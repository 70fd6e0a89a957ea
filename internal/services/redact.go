package services

import (
	"context"
	"log/slog"
	"strings"
)

// redactedError keeps the chain of err for errors.Is while replacing its
// text.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// replaceInError rewrites every occurrence of old in err's text to repl.
func replaceInError(err error, old, repl string) error {
	if err == nil || old == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, old) {
		return err
	}
	if r, ok := err.(*redactedError); ok {
		err = r.err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, old, repl), err: err}
}

// workspaceRelative hides the subject directory dir in path errors, which
// otherwise carry the CPR number in every file name under the workspace.
func workspaceRelative(err error, dir string) error {
	return replaceInError(err, dir, "<workspace>")
}

// subjectRedactor replaces the subject key with its masked form in text
// that leaves the process.
type subjectRedactor struct {
	key  string
	mask string
}

func newSubjectRedactor(subjectKey string) subjectRedactor {
	return subjectRedactor{key: subjectKey, mask: MaskSubject(subjectKey)}
}

func (r subjectRedactor) String(s string) string {
	if r.key == "" {
		return s
	}
	return strings.ReplaceAll(s, r.key, r.mask)
}

func (r subjectRedactor) Error(err error) error {
	return replaceInError(err, r.key, r.mask)
}

// Logger returns a logger on top of base that masks the subject key in the
// message and every attribute.
func (r subjectRedactor) Logger(base *slog.Logger) *slog.Logger {
	if r.key == "" {
		return base
	}
	return slog.New(&redactingHandler{inner: base.Handler(), r: r})
}

type redactingHandler struct {
	inner slog.Handler
	r     subjectRedactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.r.String(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.attr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted), r: h.r}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), r: h.r}
}

func (h *redactingHandler) attr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(h.r.String(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]slog.Attr, len(group))
		for i, g := range group {
			redacted[i] = h.attr(g)
		}
		a.Value = slog.GroupValue(redacted...)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			a.Value = slog.StringValue(h.r.String(x.Error()))
		case []string:
			masked := make([]string, len(x))
			for i, s := range x {
				masked[i] = h.r.String(s)
			}
			a.Value = slog.AnyValue(masked)
		default:
			a.Value = v
		}
	default:
		a.Value = v
	}
	return a
}
