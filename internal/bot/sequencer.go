package bot

import "sync"

// Sequencer runs tasks submitted under the same key one after another, in
// submission order. Tasks under different keys run concurrently.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func NewSequencer() *Sequencer {
	return &Sequencer{queues: make(map[string][]func())}
}

// Do queues fn behind earlier tasks for key.
func (s *Sequencer) Do(key string, fn func()) {
	s.mu.Lock()
	q, running := s.queues[key]
	s.queues[key] = append(q, fn)
	if !running {
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()
}

func (s *Sequencer) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		fn := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		fn()
	}
}

// Wait blocks until every queued task has run.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}
