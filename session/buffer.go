package session

// DefaultPendingAudioMax is used when no positive cap is configured.
const DefaultPendingAudioMax = 300

// PendingAudio holds outbound frames produced before the telephony stream id
// is known. It is bounded: once full, the oldest frame is evicted. It is
// owned by the session event loop and is not safe for concurrent use.
type PendingAudio struct {
	frames []string
	max    int
}

// NewPendingAudio creates a queue holding at most max frames.
func NewPendingAudio(max int) *PendingAudio {
	if max <= 0 {
		max = DefaultPendingAudioMax
	}
	return &PendingAudio{max: max}
}

// Max returns the cap.
func (q *PendingAudio) Max() int {
	return q.max
}

// Push appends a frame, evicting the oldest when the queue is full.
// Reports whether a frame was evicted.
func (q *PendingAudio) Push(frame string) bool {
	evicted := false
	if len(q.frames) >= q.max {
		q.frames[0] = ""
		q.frames = q.frames[1:]
		evicted = true
	}
	q.frames = append(q.frames, frame)
	return evicted
}

// Flush returns the queued frames in arrival order and empties the queue.
// Flushing an empty queue returns nil.
func (q *PendingAudio) Flush() []string {
	if len(q.frames) == 0 {
		return nil
	}
	out := q.frames
	q.frames = nil
	return out
}

// Len returns the number of queued frames.
func (q *PendingAudio) Len() int {
	return len(q.frames)
}
