package crawler

import "sync"

// ObserverSet fans anomaly callbacks out to the registered observers. Drivers
// embed one to implement Page.Observe. The zero value is ready to use.
type ObserverSet struct {
	mu   sync.Mutex
	m    map[int]Observer
	next int
}

// Add registers obs until the returned func is called.
func (s *ObserverSet) Add(obs Observer) (stop func()) {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[int]Observer)
	}
	id := s.next
	s.next++
	s.m[id] = obs
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.m, id)
			s.mu.Unlock()
		})
	}
}

// Len returns the number of registered observers.
func (s *ObserverSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *ObserverSet) ConsoleError(message string) {
	for _, o := range s.snapshot() {
		o.ConsoleError(message)
	}
}

func (s *ObserverSet) Response(status int, url string) {
	for _, o := range s.snapshot() {
		o.Response(status, url)
	}
}

func (s *ObserverSet) snapshot() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observer, 0, len(s.m))
	for _, o := range s.m {
		out = append(out, o)
	}
	return out
}
