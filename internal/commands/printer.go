package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/courierfs/courier/internal/transfer"
	"github.com/courierfs/courier/internal/ui"
)

// uploadPrinter renders engine events as terminal output. On a TTY the
// progress line is redrawn in place; otherwise only completion and failure
// lines are printed so piped output stays clean.
type uploadPrinter struct {
	out         io.Writer
	interactive bool

	mu       sync.Mutex
	lineOpen bool
}

func (p *uploadPrinter) progress(r transfer.ProgressReport) {
	if !p.interactive {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\r\033[K%s  %5.1f%%  %s/%s  %s  eta %s",
		r.FileName,
		r.Percent,
		ui.FormatSize(r.UploadedBytes),
		ui.FormatSize(r.TotalBytes),
		ui.FormatSpeed(r.Speed),
		ui.FormatETA(r.ETA),
	)
	p.lineOpen = true
}

func (p *uploadPrinter) complete(r transfer.CompletionReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLine()

	fmt.Fprintf(p.out, "%s %s (%s, %d chunks, %s, sha256:%.12s)\n",
		ui.SuccessStyle.Render("✓"),
		r.FileName,
		ui.FormatSize(r.Size),
		r.ChunkCount,
		r.Duration.Round(10*time.Millisecond),
		r.Digest,
	)
}

func (p *uploadPrinter) failure(r transfer.ErrorReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLine()

	if r.ChunkIndex >= 0 {
		fmt.Fprintf(p.out, "%s %s: chunk %d failed after %d retries: %s\n",
			ui.ErrorStyle.Render("✗"), r.FileName, r.ChunkIndex, r.RetryCount, r.Message)
		return
	}
	fmt.Fprintf(p.out, "%s %s: %s\n", ui.ErrorStyle.Render("✗"), r.FileName, r.Message)
}

// printFailedChunks renders an errored session's inspection view: the
// session status and every chunk that exhausted its retry budget, so the
// cost of a targeted retry is visible against what already succeeded.
func printFailedChunks(out io.Writer, status transfer.Status, chunks []transfer.ChunkStatus) {
	fmt.Fprintf(out, "  status: %s\n", ui.ColorizeStatus(status.String()))
	for _, c := range chunks {
		if c.Failed {
			fmt.Fprintf(out, "  chunk %d (%s at offset %d) failed after %d retries\n",
				c.Index, ui.FormatSize(c.Size), c.Start, c.Retries)
		}
	}
}

// clearLine erases an in-place progress line before a permanent line is
// printed. Callers hold p.mu.
func (p *uploadPrinter) clearLine() {
	if p.lineOpen {
		fmt.Fprint(p.out, "\r\033[K")
		p.lineOpen = false
	}
}
