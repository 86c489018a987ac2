// Package intset implements the intrusive pointer hash set the
// free-list allocator's coalescing sweep depends on: O(1) average
// insert/contains/remove over header addresses, chained collision
// resolution, and automatic 2x rehashing past a 0.7 load factor.
// Grounded on the C original's core/containers/unordered_set.c (array
// of chains, data_stride, load-factor-triggered resize) with the
// chain-node allocation and hashing style of flier-goutil's
// pkg/arena/swiss map, which reaches for github.com/dolthub/maphash for
// the same "hash a fixed-width key fast" concern.
package intset

import "github.com/dolthub/maphash"

const loadFactor = 0.7

// node is a chain link, matching unset_node{data, next} from the C
// original.
type node struct {
	key  uintptr
	next *node
}

// Set is a hash set of uintptr keys (header addresses), keyed by
// pointer identity. The zero value is not usable; construct with New.
type Set struct {
	buckets []*node
	size    int
	hasher  maphash.Hasher[uintptr]
}

// New creates a Set with the given initial bucket capacity. A capacity
// of 0 is rounded up to 1 to keep the modulo in bucketIndex well
// defined.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = 1
	}

	return &Set{
		buckets: make([]*node, capacity),
		hasher:  maphash.NewHasher[uintptr](),
	}
}

func (s *Set) bucketIndex(key uintptr) int {
	return int(s.hasher.Hash(key) % uint64(len(s.buckets)))
}

// Insert adds key to the set. Duplicate inserts are silently ignored,
// matching the C original's behavior of only appending when the key is
// not already present in its bucket's chain.
func (s *Set) Insert(key uintptr) {
	if float64(s.size+1)/float64(len(s.buckets)) >= loadFactor {
		s.rehash(len(s.buckets) * 2)
	}

	idx := s.bucketIndex(key)

	for n := s.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			return
		}
	}

	s.buckets[idx] = &node{key: key, next: s.buckets[idx]}
	s.size++
}

// Contains reports whether key is a member of the set.
func (s *Set) Contains(key uintptr) bool {
	idx := s.bucketIndex(key)

	for n := s.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			return true
		}
	}

	return false
}

// Remove deletes key from the set, reporting whether it was present.
func (s *Set) Remove(key uintptr) bool {
	idx := s.bucketIndex(key)

	var prev *node

	for n := s.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			if prev == nil {
				s.buckets[idx] = n.next
			} else {
				prev.next = n.next
			}

			s.size--

			return true
		}

		prev = n
	}

	return false
}

// Len returns the number of members currently in the set.
func (s *Set) Len() int { return s.size }

// Cap returns the current bucket array length.
func (s *Set) Cap() int { return len(s.buckets) }

// rehash doubles (or otherwise resizes) the bucket array and relinks
// every existing chain into the new table, matching
// unordered_set_resize releasing the old table and chains wholesale.
func (s *Set) rehash(newCap int) {
	old := s.buckets
	s.buckets = make([]*node, newCap)

	for _, head := range old {
		for n := head; n != nil; {
			next := n.next
			idx := s.bucketIndex(n.key)
			n.next = s.buckets[idx]
			s.buckets[idx] = n
			n = next
		}
	}
}
