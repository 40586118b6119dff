// Package cache implements a typed facade over a key-value store with
// decorator-style call instrumentation. Every instrumented operation
// carries a static identity string; per-identity invocation counters and
// ordered input/output history lists live in the store itself, and a
// replay report reconstructs the recorded calls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
)

// ErrDecode is returned when stored bytes are not valid UTF-8 text.
var ErrDecode = errors.New("cache: value is not valid text")

// ErrParse is returned when stored bytes do not parse as a decimal integer.
var ErrParse = errors.New("cache: value is not an integer")

// StoreIdentity is the instrumentation identity of the Store operation.
// The store holds its invocation counter under this key and its call
// history under StoreIdentity+":inputs" / StoreIdentity+":outputs".
const StoreIdentity = "Cache.Store"

// Cache is a typed store/retrieve facade over a key-value store. Values
// are written under fresh random keys; retrieval is by key with optional
// typed conversion. The Store operation is instrumented with call
// counting and call history.
type Cache struct {
	store   kv.Store
	storeOp OpFunc
}

// New connects the facade to store and clears every existing entry in it.
// Any data already in the store is lost. Returns kv.ErrConnection
// (wrapped) when the store is unreachable.
func New(ctx context.Context, store kv.Store) (*Cache, error) {
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", kv.ErrConnection, err)
	}
	if err := store.FlushAll(ctx); err != nil {
		return nil, fmt.Errorf("flush store: %w", err)
	}
	return newFacade(store), nil
}

// Open attaches a facade to store without clearing it, for callers that
// join a store another facade owns. Returns kv.ErrConnection (wrapped)
// when the store is unreachable.
func Open(ctx context.Context, store kv.Store) (*Cache, error) {
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", kv.ErrConnection, err)
	}
	return newFacade(store), nil
}

func newFacade(store kv.Store) *Cache {
	c := &Cache{store: store}
	c.storeOp = WithCallCount(store, StoreIdentity,
		WithCallHistory(store, StoreIdentity, c.rawStore))
	return c
}

// Store writes value under a fresh random key and returns the key.
// Accepted value types: string, []byte, int, int64, float64. The call is
// instrumented: the invocation counter and history lists for
// StoreIdentity are updated before and after the write.
func (c *Cache) Store(ctx context.Context, value any) (string, error) {
	ctx, span := observability.StartSpan(ctx, "cache.store",
		observability.AttrIdentity.String(StoreIdentity),
		observability.AttrValueType.String(fmt.Sprintf("%T", value)),
	)
	defer span.End()

	key, err := c.storeOp(ctx, value)
	if err != nil {
		observability.SetSpanError(span, err)
		metrics.Global().RecordStoreOp(StoreIdentity, false)
		return "", err
	}
	span.SetAttributes(observability.AttrKey.String(key))
	observability.SetSpanOK(span)
	metrics.Global().RecordStoreOp(StoreIdentity, true)
	return key, nil
}

// rawStore is the inner, uninstrumented store operation.
func (c *Cache) rawStore(ctx context.Context, args ...any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("cache: store takes exactly one value, got %d", len(args))
	}
	data, err := encodeValue(args[0])
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	if err := c.store.Set(ctx, key, data); err != nil {
		return "", fmt.Errorf("store value: %w", err)
	}
	return key, nil
}

// Retrieve returns the raw bytes stored under key. A missing key is
// reported as found == false, never as an error.
func (c *Cache) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		metrics.Global().RecordRetrieve("bytes", false, true)
		return nil, false, nil
	}
	if err != nil {
		metrics.Global().RecordRetrieve("bytes", false, false)
		return nil, false, err
	}
	metrics.Global().RecordRetrieve("bytes", true, true)
	return val, true, nil
}

// RetrieveAs retrieves key and converts the raw bytes with conv. The
// converter runs only on a hit; a missing key returns the zero value with
// found == false and a nil error.
func RetrieveAs[T any](ctx context.Context, c *Cache, key string, conv func([]byte) (T, error)) (T, bool, error) {
	var zero T
	raw, found, err := c.Retrieve(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	v, err := conv(raw)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// RetrieveText retrieves key as UTF-8 text. Returns ErrDecode (wrapped)
// when the stored bytes are not valid UTF-8; a missing key is
// found == false, not an error.
func (c *Cache) RetrieveText(ctx context.Context, key string) (string, bool, error) {
	s, found, err := RetrieveAs(ctx, c, key, decodeText)
	metrics.Global().RecordRetrieve("text", found, err == nil)
	return s, found, err
}

// RetrieveInt retrieves key as a decimal integer. Returns ErrParse
// (wrapped) when the stored bytes are not a valid integer; a missing key
// is found == false, not an error.
func (c *Cache) RetrieveInt(ctx context.Context, key string) (int64, bool, error) {
	n, found, err := RetrieveAs(ctx, c, key, parseInt)
	metrics.Global().RecordRetrieve("int", found, err == nil)
	return n, found, err
}

// Underlying exposes the wrapped key-value store for read-only
// companions such as the replay report.
func (c *Cache) Underlying() kv.Store {
	return c.store
}

func decodeText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: stored bytes are not valid UTF-8", ErrDecode)
	}
	return string(raw), nil
}

func parseInt(raw []byte) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrParse, raw)
	}
	return n, nil
}

// encodeValue maps a supported value to its stored byte form. Text and
// numbers round-trip through their decimal string representation, the
// same form the store's own INCR produces.
func encodeValue(v any) ([]byte, error) {
	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case int:
		return []byte(strconv.Itoa(v)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	default:
		return nil, fmt.Errorf("cache: unsupported value type %T", v)
	}
}
