package proctree

import "sort"

// Set is a set of process ids
type Set map[uint32]struct{}

func NewSet(pids ...uint32) Set {
	s := make(Set, len(pids))
	for _, pid := range pids {
		s[pid] = struct{}{}
	}
	return s
}

func (s Set) Add(pid uint32) {
	s[pid] = struct{}{}
}

func (s Set) Contains(pid uint32) bool {
	_, ok := s[pid]
	return ok
}

// Sorted returns the members in ascending order
func (s Set) Sorted() []uint32 {
	out := make([]uint32, 0, len(s))
	for pid := range s {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
