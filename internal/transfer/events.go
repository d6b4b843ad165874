package transfer

import "time"

// Status represents the aggregate state of one upload session.
type Status uint8

const (
	// StatusUploading indicates chunks are being dispatched.
	StatusUploading Status = iota
	// StatusPaused indicates no new chunks are dispatched until resumed.
	StatusPaused
	// StatusCompleted indicates every chunk was acknowledged and the
	// whole-file digest verified. Terminal.
	StatusCompleted
	// StatusError indicates at least one chunk exhausted its retry budget.
	// Recoverable via an explicit retry command.
	StatusError
	// StatusCancelled indicates the session was aborted by the caller. Terminal.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusUploading:
		return "uploading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProgressReport is emitted after every chunk transition, success or failure.
type ProgressReport struct {
	SessionID      string
	FileName       string
	UploadedBytes  int64
	TotalBytes     int64
	Percent        float64
	Speed          float64 // bytes per second; 0 until measurable
	ETA            time.Duration
	ChunksUploaded int
	TotalChunks    int
}

// CompletionReport is emitted exactly once, when every chunk is acknowledged
// and the whole-file digest verified.
type CompletionReport struct {
	SessionID  string
	FileName   string
	Size       int64
	ChunkCount int
	Digest     string // hex-encoded whole-file SHA-256
	Duration   time.Duration
}

// ErrorReport is emitted when a chunk exhausts its retry budget or the final
// integrity check fails. ChunkIndex is -1 for session-level errors.
type ErrorReport struct {
	SessionID  string
	FileName   string
	Message    string
	ChunkIndex int
	RetryCount int
}

// Callbacks is the event surface consumed by external collaborators (CLI, UI).
// Nil members are skipped. Callbacks are invoked synchronously from the
// session's event path and must return promptly; they must not call back
// into session or registry control operations. No callback fires after a
// session is cancelled.
type Callbacks struct {
	OnProgress func(ProgressReport)
	OnComplete func(CompletionReport)
	OnError    func(ErrorReport)
}
