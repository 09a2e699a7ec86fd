package job

import (
	"slices"
	"sync"
)

// PidSet is a set of process ids safe for concurrent use. The zero value
// is an empty set.
type PidSet struct {
	mx   sync.Mutex
	pids map[int]struct{}
}

func NewPidSet() *PidSet {
	return &PidSet{pids: make(map[int]struct{})}
}

func (s *PidSet) Add(pid int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.pids == nil {
		s.pids = make(map[int]struct{})
	}
	s.pids[pid] = struct{}{}
}

func (s *PidSet) Remove(pid int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.pids, pid)
}

func (s *PidSet) Contains(pid int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.pids[pid]
	return ok
}

func (s *PidSet) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.pids)
}

// List returns a sorted copy, callers may iterate it while the set changes.
func (s *PidSet) List() []int {
	s.mx.Lock()
	defer s.mx.Unlock()
	ret := make([]int, 0, len(s.pids))
	for pid := range s.pids {
		ret = append(ret, pid)
	}
	slices.Sort(ret)
	return ret
}
