package transfer

import "time"

// progressTracker accumulates completion events for one session and derives
// throughput and ETA. It is owned by the session and mutated under its mutex;
// reporting is event-driven, not timer-driven.
type progressTracker struct {
	totalBytes    int64
	uploadedBytes int64
	chunksDone    int
	startTime     time.Time
}

func newProgressTracker(totalBytes int64, start time.Time) *progressTracker {
	return &progressTracker{totalBytes: totalBytes, startTime: start}
}

func (p *progressTracker) addChunk(size int64) {
	p.uploadedBytes += size
	p.chunksDone++
}

// snapshot derives the caller-facing numbers at the given instant.
func (p *progressTracker) snapshot(now time.Time) (percent, speed float64, eta time.Duration) {
	if p.totalBytes > 0 {
		percent = float64(p.uploadedBytes) / float64(p.totalBytes) * 100.0
	} else {
		percent = 100.0
	}

	elapsed := now.Sub(p.startTime).Seconds()
	if elapsed > 0 && p.uploadedBytes > 0 {
		speed = float64(p.uploadedBytes) / elapsed
	}

	if speed > 0 {
		remaining := float64(p.totalBytes - p.uploadedBytes)
		eta = time.Duration(remaining / speed * float64(time.Second))
	}

	return percent, speed, eta
}
