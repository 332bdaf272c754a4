package server

import "sync"

// lane serializes the submissions to one relay. Each job waits for the one reserved before it,
// so a relay receives bids in reservation order and a slow relay only delays its own lane.
type lane struct {
	mu   sync.Mutex
	tail chan struct{}
}

func newLane() *lane {
	tail := make(chan struct{})
	close(tail)
	return &lane{tail: tail}
}

// reserve appends a job to the lane. The job may start once wait is closed and must close done
// when it has finished.
func (l *lane) reserve() (wait <-chan struct{}, done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	done = make(chan struct{})
	wait = l.tail
	l.tail = done
	return wait, done
}
