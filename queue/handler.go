package queue

import "fmt"

// HandlerKind identifies how a completed request delivers its body.
type HandlerKind int

const (
	KindDiscard HandlerKind = iota
	KindCallback
	KindRender
)

// String returns string representation.
func (k HandlerKind) String() string {
	switch k {
	case KindDiscard:
		return "discard"
	case KindCallback:
		return "callback"
	case KindRender:
		return "render"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// CallbackFunc receives a response body. ok is false when the request timed
// out, in which case body is empty.
type CallbackFunc func(body string, ok bool)

// Handler is the completion target of a queued request, fixed at submission.
// The zero value discards the response.
type Handler struct {
	kind     HandlerKind
	callback CallbackFunc
	target   string
}

// Callback delivers the body to fn.
func Callback(fn CallbackFunc) Handler {
	if fn == nil {
		return Discard()
	}
	return Handler{kind: KindCallback, callback: fn}
}

// RenderTarget replaces the content of the named render target with the body.
func RenderTarget(id string) Handler {
	return Handler{kind: KindRender, target: id}
}

// Discard ignores the body.
func Discard() Handler {
	return Handler{kind: KindDiscard}
}

// Kind returns the handler variant.
func (h Handler) Kind() HandlerKind {
	return h.kind
}

// Target returns the render target id (empty for other kinds).
func (h Handler) Target() string {
	return h.target
}

// Call invokes a callback handler with body. Other kinds ignore it.
func (h Handler) Call(body string, ok bool) {
	if h.kind == KindCallback {
		h.callback(body, ok)
	}
}

// Renderer replaces the content of a render target. Implementations live
// outside the queue (terminal output, templates, ...).
type Renderer interface {
	Render(target, body string)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(target, body string)

// Render calls f(target, body).
func (f RendererFunc) Render(target, body string) { f(target, body) }

// Surface is the user-facing side of the queue: alerts and the return to
// the login page when the session is gone.
type Surface interface {
	Alert(message string)
	RedirectToLogin(reason string)
}
