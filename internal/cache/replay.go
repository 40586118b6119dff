package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/oriys/pulsar/internal/kv"
)

// Replay writes a human-readable report of the recorded calls to the
// operation named by identity. The report header states the call count
// (the length of the inputs list), followed by one line per call in
// invocation order:
//
//	<identity>(*<input>) -> <output>
//
// An identity that was never called reports zero calls and emits no call
// lines. If the two history lists have mismatched lengths, pairing stops
// at the shorter list; mismatch is not an error.
func Replay(ctx context.Context, store kv.Store, identity string, w io.Writer) error {
	inputs, err := store.LRange(ctx, identity+inputsSuffix, 0, -1)
	if err != nil {
		return fmt.Errorf("read inputs for %s: %w", identity, err)
	}
	outputs, err := store.LRange(ctx, identity+outputsSuffix, 0, -1)
	if err != nil {
		return fmt.Errorf("read outputs for %s: %w", identity, err)
	}

	count := len(inputs)
	pairs := count
	if len(outputs) < pairs {
		pairs = len(outputs)
	}

	if _, err := fmt.Fprintf(w, "%s was called %d times:\n", identity, count); err != nil {
		return err
	}
	for i := 0; i < pairs; i++ {
		if _, err := fmt.Fprintf(w, "%s(*%s) -> %s\n", identity, inputs[i], outputs[i]); err != nil {
			return err
		}
	}
	return nil
}
