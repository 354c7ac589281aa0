package engine

import "fmt"

// Value is the set of types the configuration store holds.
type Value interface {
	uint64 | uint32 | uint16 | uint8 | bool | float64 | string
}

// Get reads key for channel ch (or Device) as T.
func Get[T Value](e Engine, ch int, key Key) (T, error) {
	var zero T
	raw, err := e.ConfigGet(ch, key)
	if err != nil {
		return zero, fmt.Errorf("get %v (ch %d): %w", key, ch, err)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("get %v (ch %d): have %T, want %T: %w", key, ch, raw, zero, ErrType)
	}
	return v, nil
}

// GetOr is Get with a fallback for keys the engine does not report.
func GetOr[T Value](e Engine, ch int, key Key, fallback T) T {
	v, err := Get[T](e, ch, key)
	if err != nil {
		return fallback
	}
	return v
}

// Set writes key for channel ch (or Device).
func Set[T Value](e Engine, ch int, key Key, v T) error {
	if err := e.ConfigSet(ch, key, v); err != nil {
		return fmt.Errorf("set %v (ch %d) = %v: %w", key, ch, v, err)
	}
	return nil
}

// List returns the option list the engine offers for key.
func List[T Value](e Engine, ch int, key Key) ([]T, error) {
	raw, err := e.ConfigList(ch, key)
	if err != nil {
		return nil, fmt.Errorf("list %v (ch %d): %w", key, ch, err)
	}
	v, ok := raw.([]T)
	if !ok {
		return nil, fmt.Errorf("list %v (ch %d): have %T: %w", key, ch, raw, ErrType)
	}
	out := make([]T, len(v))
	copy(out, v)
	return out, nil
}
