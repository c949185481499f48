// Package queue holds the in-memory index of commands awaiting a device
// result. It is a derived view over non-terminal commands in the store, the
// single source of truth for "what still needs delivering"; on restart it is
// rebuilt by scanning commands in state created or dispatched.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// Entry is a lightweight projection of a non-terminal command. Exactly one
// entry exists per non-terminal command.
type Entry struct {
	CommandID string
	DeviceID  string

	// Seq orders entries by creation so devices drain commands fairly,
	// earliest first.
	Seq uint64

	// FallbackAt is when the entry becomes eligible for fallback promotion:
	// the pub/sub channel has had its chance by then.
	FallbackAt time.Time

	// ExpireAt mirrors the command deadline for the sweep.
	ExpireAt time.Time

	// Attempted records the channels tried so far.
	Attempted model.Channel
}

// Queue is safe for concurrent use by request handlers and the sweeper. No
// entry is ever both returned by Drain and silently dropped before its
// command is resolved: mutation happens only under the lock and Drain hands
// out copies.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*Entry
	nextSeq uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{entries: make(map[string]*Entry)}
}

// Enqueue adds an entry. Re-enqueueing a command id already present is a
// no-op, preserving the original creation order.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[e.CommandID]; ok {
		return
	}

	q.nextSeq++
	e.Seq = q.nextSeq
	if e.Attempted == "" {
		e.Attempted = model.ChannelNone
	}
	q.entries[e.CommandID] = &e
}

// Drain returns every entry for the device, earliest command first. Entries
// stay queued: only a result, cancellation or expiry removes them, so a lost
// poll response does not lose the command.
func (q *Queue) Drain(deviceID string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for _, e := range q.entries {
		if e.DeviceID == deviceID {
			out = append(out, *e)
		}
	}
	sortBySeq(out)
	return out
}

// DueForFallback returns entries whose fallback deadline has elapsed and
// whose fallback channel has not been attempted yet, earliest first.
func (q *Queue) DueForFallback(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for _, e := range q.entries {
		if e.Attempted == model.ChannelHTTP || e.Attempted == model.ChannelBoth {
			continue
		}
		if !e.FallbackAt.After(now) {
			out = append(out, *e)
		}
	}
	sortBySeq(out)
	return out
}

// Expired returns entries whose command deadline has elapsed, earliest first.
func (q *Queue) Expired(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for _, e := range q.entries {
		if !e.ExpireAt.After(now) {
			out = append(out, *e)
		}
	}
	sortBySeq(out)
	return out
}

// MarkAttempted merges ch into the channels recorded for the command.
func (q *Queue) MarkAttempted(commandID string, ch model.Channel) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[commandID]; ok {
		e.Attempted = mergeChannels(e.Attempted, ch)
	}
}

// PromoteFallback makes the entry immediately eligible for fallback polling.
func (q *Queue) PromoteFallback(commandID string, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[commandID]; ok && e.FallbackAt.After(now) {
		e.FallbackAt = now
	}
}

// Remove drops the entry for a resolved command. Returns false when the
// entry was already gone (a racing remover won).
func (q *Queue) Remove(commandID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[commandID]; !ok {
		return false
	}
	delete(q.entries, commandID)
	return true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func sortBySeq(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}

// mergeChannels folds a newly attempted channel into the record.
func mergeChannels(cur, next model.Channel) model.Channel {
	if cur == next || next == model.ChannelNone || next == "" {
		return cur
	}
	switch cur {
	case model.ChannelNone, "":
		return next
	case model.ChannelBoth:
		return model.ChannelBoth
	}
	// pubsub + http_fallback in either order
	return model.ChannelBoth
}
