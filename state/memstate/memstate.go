/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package memstate is the in-memory implementation of state.Substrate.
// It is what every unit test in this repo runs against, and it is a
// legitimate single-process production backend for small deployments,
// per spec.md §9's testability-without-the-full-substrate requirement.
package memstate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravwell/siemcore/state"
)

// Substrate is the in-memory state.Substrate implementation.
type Substrate struct {
	windows *windowStore
	kv      *kvStore
	ttl     *ttlSet
}

// New builds an empty in-memory substrate.
func New() *Substrate {
	return &Substrate{
		windows: newWindowStore(),
		kv:      newKVStore(),
		ttl:     newTTLSet(),
	}
}

func (s *Substrate) Windows() state.WindowStore { return s.windows }
func (s *Substrate) KV() state.KVStore          { return s.kv }
func (s *Substrate) TTL() state.TTLSet          { return s.ttl }

// --- windows ---

type windowStore struct {
	mu   sync.Mutex
	data map[string][]state.WindowEntry
}

func newWindowStore() *windowStore {
	return &windowStore{data: make(map[string][]state.WindowEntry)}
}

func evict(entries []state.WindowEntry, ttl time.Duration, now time.Time) []state.WindowEntry {
	cutoff := now.Add(-ttl)
	out := entries[:0]
	for _, e := range entries {
		if !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (w *windowStore) Append(_ context.Context, key string, e state.WindowEntry, ttl time.Duration, cap int) ([]state.WindowEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := evict(w.data[key], ttl, e.At)
	cur = append(cur, e)
	sort.Slice(cur, func(i, j int) bool { return cur[i].At.Before(cur[j].At) })
	if cap > 0 && len(cur) > cap {
		cur = cur[len(cur)-cap:]
	}
	cp := make([]state.WindowEntry, len(cur))
	copy(cp, cur)
	w.data[key] = cp
	return cp, nil
}

func (w *windowStore) Get(_ context.Context, key string, ttl time.Duration) ([]state.WindowEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := evict(w.data[key], ttl, time.Now())
	w.data[key] = cur
	cp := make([]state.WindowEntry, len(cur))
	copy(cp, cur)
	return cp, nil
}

func (w *windowStore) Clear(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.data, key)
	return nil
}

func (w *windowStore) ClearLabel(_ context.Context, key string, label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.data[key]
	out := cur[:0]
	for _, e := range cur {
		if e.Label != label {
			out = append(out, e)
		}
	}
	w.data[key] = out
	return nil
}

// --- kv ---

type kvStore struct {
	mu   sync.Mutex
	data map[string]kvItem
}

type kvItem struct {
	val     []byte
	expires time.Time // zero => no expiry
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string]kvItem)}
}

func (k *kvStore) expired(it kvItem) bool {
	return !it.expires.IsZero() && time.Now().After(it.expires)
}

func (k *kvStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	it, ok := k.data[key]
	if !ok || k.expired(it) {
		return nil, false, nil
	}
	cp := make([]byte, len(it.val))
	copy(cp, it.val)
	return cp, true, nil
}

func (k *kvStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	k.data[key] = kvItem{val: cp, expires: exp}
	return nil
}

func (k *kvStore) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

// CAS retries are not needed here: the store-wide mutex already
// serializes readers/writers for a given key, so the callback always
// observes a consistent current value. Production's redisstate backend
// is the one that actually needs the retry-cap-3 WATCH/MULTI path (§5).
func (k *kvStore) CAS(_ context.Context, key string, fn func(cur []byte, present bool) (next []byte, ok bool)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	it, present := k.data[key]
	if present && k.expired(it) {
		present = false
	}
	next, ok := fn(it.val, present)
	if !ok {
		return nil
	}
	cp := make([]byte, len(next))
	copy(cp, next)
	k.data[key] = kvItem{val: cp, expires: it.expires}
	return nil
}

// --- ttl set ---

type ttlSet struct {
	mu   sync.Mutex
	data map[string]map[string]time.Time
}

func newTTLSet() *ttlSet {
	return &ttlSet{data: make(map[string]map[string]time.Time)}
}

func (t *ttlSet) Add(_ context.Context, set string, member string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.data[set]
	if !ok {
		m = make(map[string]time.Time)
		t.data[set] = m
	}
	m[member] = time.Now().Add(ttl)
	return nil
}

func (t *ttlSet) Contains(_ context.Context, set string, member string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.data[set]
	exp, ok := m[member]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(m, member)
		return false, nil
	}
	return true, nil
}

func (t *ttlSet) Remove(_ context.Context, set string, member string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data[set], member)
	return nil
}

func (t *ttlSet) Count(_ context.Context, set string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.data[set]
	now := time.Now()
	n := 0
	for member, exp := range m {
		if now.After(exp) {
			delete(m, member)
			continue
		}
		n++
	}
	return n, nil
}
