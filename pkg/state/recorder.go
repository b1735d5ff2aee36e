package state

// Recorder is the per-tick patch scratch buffer. The keeper creates one
// recording scope per processed command and per onTick invocation, the sync
// engine drains the accumulated patches at sync time, and the buffer is
// cleared once the tick's updates have been handed to the transport.
//
// A nil *Recorder is valid and records nothing, which is how dirty-tracking
// can be disabled without touching the mutation paths.
type Recorder struct {
	patches []Patch
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends a patch. No-op on a nil recorder.
func (r *Recorder) Record(p Patch) {
	if r == nil {
		return
	}
	r.patches = append(r.patches, p)
}

// Len returns the number of recorded patches.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patches)
}

// Patches returns the recorded patches without clearing them.
func (r *Recorder) Patches() []Patch {
	if r == nil {
		return nil
	}
	return r.patches
}

// Drain returns the recorded patches and clears the buffer.
func (r *Recorder) Drain() []Patch {
	if r == nil {
		return nil
	}
	out := r.patches
	r.patches = nil
	return out
}

// Clear discards all recorded patches.
func (r *Recorder) Clear() {
	if r == nil {
		return
	}
	r.patches = r.patches[:0]
}
