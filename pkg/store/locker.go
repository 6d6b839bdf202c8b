// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"sync"

	"tailscale.com/util/mak"
)

// Locker implements Store.Exclusive with one in-process lock per prefix.
// A prefix's lock exists only while some caller holds or waits for it.
// The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*prefixLock
}

type prefixLock struct {
	ch   chan struct{}
	refs int // holders plus waiters; guarded by Locker.mu
}

func (l *Locker) acquire(prefix string) *prefixLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.locks[prefix]
	if !ok {
		pl = &prefixLock{ch: make(chan struct{}, 1)}
		mak.Set(&l.locks, prefix, pl)
	}
	pl.refs++
	return pl
}

func (l *Locker) release(prefix string, pl *prefixLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, prefix)
	}
}

// Exclusive runs fn with the lock for prefix held. Waiting for the lock is
// abandoned if ctx is done.
func (l *Locker) Exclusive(ctx context.Context, prefix string, fn func(context.Context) error) error {
	pl := l.acquire(prefix)
	defer l.release(prefix, pl)
	select {
	case pl.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-pl.ch }()
	return fn(ctx)
}

// size returns the number of prefixes with a live lock.
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
