package localvec

import "context"

// Op names a public operation seen by hooks.
type Op string

// Operations passed to hooks.
const (
	OpAdd    Op = "add"
	OpGet    Op = "get"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpSearch Op = "search"
	OpClear  Op = "clear"
)

// HookInfo describes the call a hook runs around.
type HookInfo struct {
	Op         Op
	Collection string
	IDs        []string
	K          int
}

// Hooks wrap the public operations of a collection, for example for
// auditing, retries or redaction outside the engine.
type Hooks struct {
	// Before runs ahead of the operation. A non-nil error aborts the call
	// and is returned to the caller.
	Before func(ctx context.Context, info HookInfo) error

	// After runs once the operation returned, with its error.
	After func(ctx context.Context, info HookInfo, err error)
}

func (h Hooks) before(ctx context.Context, info HookInfo) error {
	if h.Before == nil {
		return nil
	}

	return h.Before(ctx, info)
}

func (h Hooks) after(ctx context.Context, info HookInfo, err error) {
	if h.After != nil {
		h.After(ctx, info, err)
	}
}
