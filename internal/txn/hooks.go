package txn

import "context"

type hooksKey struct{}

// Hooks collects callbacks that must only run once the enclosing
// transaction has committed. Runners attach one per root transaction.
type Hooks struct {
	fns []func()
}

// WithHooks returns ctx carrying a fresh Hooks list.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Mark returns a position that Discard can rewind to when a nested scope
// rolls back.
func (h *Hooks) Mark() int { return len(h.fns) }

// Discard drops every callback registered after mark.
func (h *Hooks) Discard(mark int) {
	if mark < len(h.fns) {
		h.fns = h.fns[:mark]
	}
}

// Run invokes the callbacks in registration order and clears the list.
func (h *Hooks) Run() {
	fns := h.fns
	h.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// HooksFrom returns the Hooks carried by ctx, if any.
func HooksFrom(ctx context.Context) (*Hooks, bool) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	return h, ok
}

// AfterCommit defers fn until the transaction carried by ctx commits. It is
// dropped if that transaction, or the savepoint it was registered under,
// rolls back. Outside a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := HooksFrom(ctx); ok {
		h.fns = append(h.fns, fn)
		return
	}
	fn()
}
