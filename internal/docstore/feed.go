package docstore

import "sync"

// feed hands snapshots to one handler in order, on its own goroutine, so a
// slow subscriber never blocks writers.
type feed struct {
	fn Handler

	mu      sync.Mutex
	pending []*Document

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newFeed(fn Handler) *feed {
	f := &feed{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *feed) push(doc *Document) {
	f.mu.Lock()
	f.pending = append(f.pending, doc)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		for {
			f.mu.Lock()
			if len(f.pending) == 0 {
				f.mu.Unlock()
				break
			}
			doc := f.pending[0]
			f.pending = f.pending[1:]
			f.mu.Unlock()

			select {
			case <-f.done:
				return
			default:
			}
			f.fn(doc)
		}
	}
}

func (f *feed) stop() {
	f.once.Do(func() { close(f.done) })
}

func (d *Document) clone() *Document {
	c := *d
	c.Data = append([]byte(nil), d.Data...)
	return &c
}
