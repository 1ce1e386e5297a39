package audio

// CaptureDevice is a microphone source that delivers blocks of samples from a
// device-owned thread.
//
// Implementations must be safe for concurrent use: SetMuted and Stop are
// called from the session's goroutines while the device callback runs on an
// audio thread.
type CaptureDevice interface {
	// Start begins capture. onBlock is invoked once per device period with
	// normalised mono samples and the rate they were captured at. The slice is
	// only valid for the duration of the call.
	Start(onBlock func(block CaptureBlock)) error

	// SetMuted gates the device without tearing it down. While muted the
	// device keeps running (so unmuting has no start-up latency) but delivers
	// silence or nothing at all.
	SetMuted(muted bool)

	// Stop releases the device. Stop is idempotent; no onBlock call starts
	// after it returns.
	Stop() error
}

// PlaybackDevice renders one [Chunk] at a time to the speaker.
type PlaybackDevice interface {
	// Submit schedules chunk for output and returns immediately. onComplete is
	// called exactly once when the chunk has been fully rendered, from any
	// goroutine, possibly before Submit returns. A non-nil error means the
	// chunk was rejected and onComplete will not be called.
	Submit(chunk Chunk, onComplete func()) error

	// Flush drops any chunk that has not finished rendering without invoking
	// its completion.
	Flush()
}
