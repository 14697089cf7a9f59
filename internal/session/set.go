package session

import "github.com/xiaot623/gogo/chatd/internal/protocol"

// Set is the collection of open sessions of one actor. It has no lock: only
// the actor's processing loop may touch it.
type Set struct {
	sinks map[string]Sink
	order []string
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{sinks: make(map[string]Sink)}
}

// Add registers s. Adding an id twice replaces the earlier sink.
func (s *Set) Add(sink Sink) {
	if _, ok := s.sinks[sink.ID()]; !ok {
		s.order = append(s.order, sink.ID())
	}
	s.sinks[sink.ID()] = sink
}

// Remove unregisters the sink with id and reports whether it was present.
func (s *Set) Remove(id string) bool {
	if _, ok := s.sinks[id]; !ok {
		return false
	}
	delete(s.sinks, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether id is registered.
func (s *Set) Has(id string) bool {
	_, ok := s.sinks[id]
	return ok
}

// Len returns the number of registered sinks.
func (s *Set) Len() int {
	return len(s.sinks)
}

// Broadcast delivers frame to every open sink in registration order. Closed
// sinks are skipped and delivery errors are ignored. It returns the number of
// sinks that accepted the frame.
func (s *Set) Broadcast(frame protocol.Outbound) int {
	delivered := 0
	for _, id := range s.order {
		sink := s.sinks[id]
		if !sink.Open() {
			continue
		}
		if err := sink.Deliver(frame); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes and removes every sink, returning how many there were.
func (s *Set) CloseAll() int {
	n := len(s.sinks)
	for _, id := range s.order {
		_ = s.sinks[id].Close()
	}
	s.sinks = make(map[string]Sink)
	s.order = nil
	return n
}
