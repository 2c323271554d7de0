package seeding

import "sync"

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSeeding Phase = "seeding"
	PhaseDone    Phase = "done"
	PhaseError   Phase = "error"
)

// Progress is what the UI observes while the corpus is being seeded.
type Progress struct {
	Status         Phase  `json:"status"`
	BooksProcessed int    `json:"booksProcessed"`
	TotalBooks     int    `json:"totalBooks"`
	Error          string `json:"error,omitempty"`
}

type ProgressFunc func(Progress)

func Idle() Progress {
	return Progress{Status: PhaseIdle}
}

func Seeding(processed, total int) Progress {
	return Progress{Status: PhaseSeeding, BooksProcessed: processed, TotalBooks: total}
}

func Done(total int) Progress {
	return Progress{Status: PhaseDone, BooksProcessed: total, TotalBooks: total}
}

func Failed(processed, total int, err error) Progress {
	p := Progress{Status: PhaseError, BooksProcessed: processed, TotalBooks: total}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

// Status holds the latest Progress and fans it out to subscribers. A slow
// subscriber only ever sees the most recent value.
type Status struct {
	mu      sync.Mutex
	current Progress
	subs    map[chan Progress]struct{}
}

func NewStatus() *Status {
	return &Status{current: Idle(), subs: make(map[chan Progress]struct{})}
}

func (s *Status) Current() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Status) Publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
	for ch := range s.subs {
		offer(ch, p)
	}
}

// Subscribe returns a channel primed with the current value. Call cancel to
// stop receiving; the channel is closed afterwards.
func (s *Status) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

func offer(ch chan Progress, p Progress) {
	select {
	case ch <- p:
		return
	default:
	}
	// drop the stale value
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
