package search

import "sort"

// Ranked is an item a Stack can order and deduplicate.
type Ranked[K comparable] interface {
	RankScore() float64
	Key() K
}

// Stack is a capacity-bounded list of items kept best first. With
// deduplication on, it holds at most one item per key.
type Stack[K comparable, T Ranked[K]] struct {
	capacity int
	dedupe   bool
	items    []T
	evicted  int
}

// NewStack creates a stack holding at most capacity items.
func NewStack[K comparable, T Ranked[K]](capacity int, dedupe bool) *Stack[K, T] {
	return &Stack[K, T]{capacity: capacity, dedupe: dedupe}
}

// Len returns the number of items.
func (s *Stack[K, T]) Len() int { return len(s.items) }

// Capacity returns the maximum number of items.
func (s *Stack[K, T]) Capacity() int { return s.capacity }

// Evicted returns how many items were dropped for lack of room.
func (s *Stack[K, T]) Evicted() int { return s.evicted }

// Push inserts item and reports whether it was stored. An item sharing its
// key with a stored one replaces it only when it ranks strictly higher. A
// full stack drops its worst item for a strictly better one.
func (s *Stack[K, T]) Push(item T) bool {
	score := item.RankScore()
	if s.dedupe {
		k := item.Key()
		for i, old := range s.items {
			if old.Key() != k {
				continue
			}
			if score <= old.RankScore() {
				return false
			}
			s.remove(i)
			s.insert(item)
			return true
		}
	}
	if s.capacity > 0 && len(s.items) >= s.capacity {
		if score <= s.items[len(s.items)-1].RankScore() {
			s.evicted++
			return false
		}
		s.remove(len(s.items) - 1)
		s.evicted++
	}
	s.insert(item)
	return true
}

// insert places item after every item ranking at least as high.
func (s *Stack[K, T]) insert(item T) {
	score := item.RankScore()
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].RankScore() < score })
	var zero T
	s.items = append(s.items, zero)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = item
}

func (s *Stack[K, T]) remove(i int) {
	copy(s.items[i:], s.items[i+1:])
	var zero T
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
}

// Peek returns the best item without removing it.
func (s *Stack[K, T]) Peek() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[0], true
}

// Pop removes and returns the best item.
func (s *Stack[K, T]) Pop() (T, bool) {
	item, ok := s.Peek()
	if ok {
		s.remove(0)
	}
	return item, ok
}

// PruneBelow drops every item ranking at or below threshold and returns
// how many were dropped.
func (s *Stack[K, T]) PruneBelow(threshold float64) int {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].RankScore() <= threshold })
	n := len(s.items) - i
	var zero T
	for j := i; j < len(s.items); j++ {
		s.items[j] = zero
	}
	s.items = s.items[:i]
	return n
}

// Items returns the items best first.
func (s *Stack[K, T]) Items() []T {
	return append([]T(nil), s.items...)
}

// Clear drops every item.
func (s *Stack[K, T]) Clear() {
	s.items = nil
	s.evicted = 0
}
