// Package progress is the typed message stream between the backup
// executor / restore resolver and their UI collaborators (the CLI's
// progress bar, the scheduler's notifications). The consumer drains the
// channel at its own pace; a slow consumer sees the latest state rather
// than blocking the worker.
package progress

// Update carries a running snapshot of an in-progress backup or restore.
type Update struct {
	CurrentFile    string
	FilesTotal     int
	FilesProcessed int
	FilesCopied    int
	FilesSkipped   int
	BytesCopied    int64
}

// Terminal carries the final outcome of a backup or restore invocation.
type Terminal struct {
	Status       string // completed | cancelled | error
	Error        string
	SessionID    int64
	BackupFolder string
	Unresolved   []string // restore: files not found in the chain or whose copy failed
}

// Event is either an Update or a Terminal, never both.
type Event struct {
	Update   *Update
	Terminal *Terminal
}

// Reporter is a single-producer/single-consumer, non-backpressured event
// stream: sends never block the producer for longer than it takes to
// enqueue. When the buffer is full, a pending Update is dropped in favor
// of the newer one (latest-wins); a Terminal event always displaces a
// queued Update to guarantee the consumer eventually observes the
// outcome.
type Reporter struct {
	ch chan Event
}

// NewReporter creates a Reporter with the given channel buffer size.
func NewReporter(buffer int) *Reporter {
	if buffer < 1 {
		buffer = 1
	}
	return &Reporter{ch: make(chan Event, buffer)}
}

// C returns the receive-only event channel for consumers.
func (r *Reporter) C() <-chan Event {
	return r.ch
}

// Send enqueues an event without blocking the caller beyond the time
// needed to make room for it.
func (r *Reporter) Send(e Event) {
	select {
	case r.ch <- e:
		return
	default:
	}

	// Buffer full: Updates are fine to drop (latest-wins); Terminal
	// events must get through, so make room by discarding one queued
	// event and retry once.
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- e:
	default:
		// Still full (a concurrent send raced us); an Update can be
		// silently superseded, but a dropped Terminal would strand the
		// consumer. This only happens under genuine multi-producer
		// misuse, which this package's contract forbids.
	}
}

// Close closes the event channel. Callers must stop sending before
// calling Close.
func (r *Reporter) Close() {
	close(r.ch)
}
