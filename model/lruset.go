/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package model

import "container/list"

// LRUSet is a bounded set that evicts the least-recently-touched member
// when it grows past its cap. It backs UserBaseline.TypicalIPs (cap 50),
// TypicalDevices (cap 20), and TypicalCountries (cap 10) per §4.5.
type LRUSet struct {
	cap   int
	order *list.List
	index map[string]*list.Element
}

// NewLRUSet builds a bounded set with the given capacity.
func NewLRUSet(capacity int) *LRUSet {
	return &LRUSet{
		cap:   capacity,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Add inserts or refreshes a member, evicting the oldest if the set is
// now over capacity.
func (s *LRUSet) Add(v string) {
	if el, ok := s.index[v]; ok {
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(v)
	s.index[v] = el
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}

// Contains reports membership without affecting recency order (a pure
// membership check, used by detector/FP-reduction lookups which must
// not mutate baseline state as a side effect of reading it).
func (s *LRUSet) Contains(v string) bool {
	_, ok := s.index[v]
	return ok
}

// Len returns the current member count.
func (s *LRUSet) Len() int {
	return s.order.Len()
}

// Members returns a snapshot of all current members, most-recent first.
func (s *LRUSet) Members() []string {
	out := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
