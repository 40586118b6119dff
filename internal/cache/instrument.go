package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oriys/pulsar/internal/kv"
)

// History list key suffixes. For an identity "Cache.Store" the inputs
// live at "Cache.Store:inputs" and the outputs at "Cache.Store:outputs";
// the invocation counter lives under the bare identity.
const (
	inputsSuffix  = ":inputs"
	outputsSuffix = ":outputs"
)

// OpFunc is the single contract instrumentation wraps around: an
// operation takes call arguments and returns a result string. Wrappers
// compose over it and delegate inward.
type OpFunc func(ctx context.Context, args ...any) (string, error)

// WithCallCount wraps next so every invocation first increments the
// counter stored under identity. The increment happens before the
// delegate runs, so the counter reflects attempts, not completions.
func WithCallCount(store kv.Store, identity string, next OpFunc) OpFunc {
	return func(ctx context.Context, args ...any) (string, error) {
		if _, err := store.Incr(ctx, identity); err != nil {
			return "", fmt.Errorf("count call to %s: %w", identity, err)
		}
		return next(ctx, args...)
	}
}

// WithCallHistory wraps next so every invocation appends its stringified
// arguments to the identity's inputs list before delegating, and the
// result to the outputs list after the delegate succeeds. One push per
// list per call keeps inputs[i] paired with outputs[i]; a failed
// delegate leaves the inputs list one entry longer, which the replay
// report truncates away.
func WithCallHistory(store kv.Store, identity string, next OpFunc) OpFunc {
	return func(ctx context.Context, args ...any) (string, error) {
		if err := store.RPush(ctx, identity+inputsSuffix, []byte(formatArgs(args))); err != nil {
			return "", fmt.Errorf("record inputs for %s: %w", identity, err)
		}
		out, err := next(ctx, args...)
		if err != nil {
			return "", err
		}
		if err := store.RPush(ctx, identity+outputsSuffix, []byte(out)); err != nil {
			return "", fmt.Errorf("record outputs for %s: %w", identity, err)
		}
		return out, nil
	}
}

// CallCount reads the live invocation counter for identity. A counter
// that was never incremented reads as zero.
func CallCount(ctx context.Context, store kv.Store, identity string) (int64, error) {
	raw, err := store.Get(ctx, identity)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds non-integer value %q", identity, raw)
	}
	return n, nil
}

// formatArgs stringifies a call's arguments for the inputs log. Byte
// slices are recorded as their text form so the replay report stays
// readable.
func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch a := a.(type) {
		case []byte:
			parts[i] = string(a)
		default:
			parts[i] = fmt.Sprint(a)
		}
	}
	return strings.Join(parts, ", ")
}
