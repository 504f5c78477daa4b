package internal

import (
	"context"
	"fmt"
)

// https://adithayyil.tech/posts/go-type-safe-contexts/

// CtxKey is a context key bound to the type of the value it stores, so a lookup can never return a value of the
// wrong type.
type CtxKey[T any] struct {
	name string
}

// NewCtxKey creates a key. Two keys with the same name and type are the same key.
func NewCtxKey[T any](name string) CtxKey[T] {
	return CtxKey[T]{name: name}
}

func (k CtxKey[T]) String() string {
	return fmt.Sprintf("ctxkey[%T](%s)", *new(T), k.name)
}

// WithValue returns a copy of ctx carrying value under k.
func (k CtxKey[T]) WithValue(ctx context.Context, value T) context.Context {
	return context.WithValue(ctx, k, value)
}

// Value returns the value stored under k and whether there was one.
func (k CtxKey[T]) Value(ctx context.Context) (T, bool) {
	value, ok := ctx.Value(k).(T)
	return value, ok
}
