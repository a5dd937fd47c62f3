package dialer

import (
	"context"
	"errors"
)

// ErrEmpty is returned by pop operations when there is nothing to pop.
var ErrEmpty = errors.New("dialer: queue empty")

// QueueStore is the narrow storage contract the queue runs on. The shapes
// mirror Redis primitives (lists, a sorted set, plain sets) so the production
// adapter is a thin mapping, while tests and single-node deployments use the
// in-memory implementation.
type QueueStore interface {
	// LPush prepends to a list.
	LPush(ctx context.Context, key string, val []byte) error
	// RPush appends to a list.
	RPush(ctx context.Context, key string, val []byte) error
	// LPop removes and returns the head of a list, or ErrEmpty.
	LPop(ctx context.Context, key string) ([]byte, error)

	// ZAdd inserts a member with a score into a sorted set.
	ZAdd(ctx context.Context, key string, score float64, member []byte) error
	// ZPopUpTo removes and returns every member with score <= max, in
	// ascending score order. An empty result is not an error.
	ZPopUpTo(ctx context.Context, key string, max float64) ([][]byte, error)

	// SAdd adds a member to a set.
	SAdd(ctx context.Context, key, member string) error
	// SRem removes a member from a set.
	SRem(ctx context.Context, key, member string) error
	// SMembers returns all members of a set.
	SMembers(ctx context.Context, key string) ([]string, error)
}
