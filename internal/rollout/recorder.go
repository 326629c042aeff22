package rollout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DroppedCounter is notified for every event dropped on a full buffer.
type DroppedCounter interface {
	IncRecorderDropped()
}

// Recorder appends metric events off the request path. Record never
// blocks: when the buffer is full the event is dropped and counted.
type Recorder struct {
	sink    EventSink
	events  chan Event
	done    chan struct{}
	log     zerolog.Logger
	dropped DroppedCounter
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Buffer  int
	Logger  zerolog.Logger
	Dropped DroppedCounter
	// WriteTimeout bounds each append. Defaults to 2s.
	WriteTimeout time.Duration
}

// NewRecorder starts the background writer.
func NewRecorder(sink EventSink, opts RecorderOptions) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	r := &Recorder{
		sink:    sink,
		events:  make(chan Event, opts.Buffer),
		done:    make(chan struct{}),
		log:     opts.Logger,
		dropped: opts.Dropped,
		timeout: opts.WriteTimeout,
	}
	go r.run()
	return r
}

// Record enqueues ev. It reports whether the event was accepted.
func (r *Recorder) Record(ev Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.events <- ev:
		return true
	default:
		if r.dropped != nil {
			r.dropped.IncRecorderDropped()
		}
		r.log.Warn().Str("request_id", ev.RequestID).Msg("rollout metric buffer full, event dropped")
		return false
	}
}

// Close stops accepting events and waits for buffered ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		r.write(ev)
	}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sink.AppendRolloutEvent(ctx, ev); err != nil {
		level := r.log.Warn()
		if errors.Is(err, ErrSinkUnavailable) {
			level = r.log.Debug()
		}
		level.Err(err).Str("request_id", ev.RequestID).Msg("rollout metric not recorded")
	}
}

// ErrSinkUnavailable may be wrapped by sinks that are not ready, e.g.
// before the graph schema exists. Such failures are logged at debug level.
var ErrSinkUnavailable = errors.New("rollout: event sink unavailable")
