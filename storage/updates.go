package storage

import "sync"

// updates fans Set metrics out to listeners.
type updates struct {
	mu    sync.Mutex
	chans []chan *Update

	// stop will be closed when close() is called
	stop chan struct{}
}

func newUpdates() updates {
	return updates{
		chans: make([]chan *Update, 0),
		stop:  make(chan struct{}),
	}
}

func (u *updates) listen() <-chan *Update {
	u.mu.Lock()
	defer u.mu.Unlock()

	ch := make(chan *Update, UpdateBufferSize)
	if !u.isRunning() {
		close(ch)
		return ch
	}

	u.chans = append(u.chans, ch)
	return ch
}

func (u *updates) send(update *Update) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.isRunning() {
		return
	}

	for _, ch := range u.chans {
		select {
		case ch <- update:
		default:
		}
	}
}

func (u *updates) close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.isRunning() {
		return
	}

	close(u.stop)

	for _, ch := range u.chans {
		close(ch)
	}
	u.chans = nil
}

// isRunning returns true if close has not been called
func (u *updates) isRunning() bool {
	select {
	case <-u.stop:
		return false

	default:
		return true
	}
}
