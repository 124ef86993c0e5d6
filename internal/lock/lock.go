// Package lock serializes read-modify-write sequences on the same entities.
package lock

import (
	"context"
	"sort"
)

// Locker acquires exclusive ownership of a set of keys. Implementations
// acquire keys in sorted order so overlapping sets cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// Key builds a lock key such as "profile:<id>" or "inventory:<dealer>:<type>".
func Key(kind string, parts ...string) string {
	key := kind
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

type heldKey struct{}

// Hold locks keys that the ctx does not already hold and returns a context
// recording them, so nested engine calls reuse the outer locks instead of
// deadlocking on them. Locks must be taken before a store transaction starts.
func Hold(ctx context.Context, l Locker, keys ...string) (context.Context, func(), error) {
	held, _ := ctx.Value(heldKey{}).(map[string]struct{})

	var need []string
	for _, k := range keys {
		if _, ok := held[k]; !ok {
			need = append(need, k)
		}
	}
	if len(need) == 0 {
		return ctx, func() {}, nil
	}

	unlock, err := l.Lock(ctx, need...)
	if err != nil {
		return ctx, nil, err
	}

	next := make(map[string]struct{}, len(held)+len(need))
	for k := range held {
		next[k] = struct{}{}
	}
	for _, k := range need {
		next[k] = struct{}{}
	}
	return context.WithValue(ctx, heldKey{}, next), unlock, nil
}

// normalize sorts and de-duplicates keys.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
