package crawler

import "sort"

// VisitedSet holds the routes a session has already processed.
type VisitedSet struct {
	m     map[RoutePath]struct{}
	order []RoutePath
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{m: make(map[RoutePath]struct{})}
}

func (v *VisitedSet) Has(r RoutePath) bool {
	_, ok := v.m[r]
	return ok
}

// Add marks r visited and reports whether it was new.
func (v *VisitedSet) Add(r RoutePath) bool {
	if v.Has(r) {
		return false
	}
	v.m[r] = struct{}{}
	v.order = append(v.order, r)
	return true
}

func (v *VisitedSet) Len() int { return len(v.order) }

// Order returns routes in the order they were visited.
func (v *VisitedSet) Order() []RoutePath {
	return append([]RoutePath{}, v.order...)
}

// Sorted returns routes in ascending lexicographic order.
func (v *VisitedSet) Sorted() []RoutePath {
	out := v.Order()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Frontier is the FIFO of routes waiting to be visited. A route that is
// visited or already queued is never inserted again.
type Frontier struct {
	visited *VisitedSet
	queue   []RoutePath
	queued  map[RoutePath]struct{}
}

func NewFrontier(visited *VisitedSet) *Frontier {
	return &Frontier{visited: visited, queued: make(map[RoutePath]struct{})}
}

// Push appends r and reports whether it was accepted.
func (f *Frontier) Push(r RoutePath) bool {
	if f.visited.Has(r) {
		return false
	}
	if _, ok := f.queued[r]; ok {
		return false
	}
	f.queued[r] = struct{}{}
	f.queue = append(f.queue, r)
	return true
}

// Pop removes the head of the queue.
func (f *Frontier) Pop() (RoutePath, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.queued, r)
	return r, true
}

func (f *Frontier) Len() int { return len(f.queue) }
