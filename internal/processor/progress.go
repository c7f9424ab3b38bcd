package processor

import (
	"fmt"
	"io"
	"sync"
)

// Progress prints the console progress of a run: one line per point and a
// status per month overwritten in place. A nil *Progress prints nothing.
type Progress struct {
	w  io.Writer
	mu sync.Mutex
}

// NewProgress writes progress to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Point announces the point being processed.
func (p *Progress) Point(index, total int, dir string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "\nExporting monthly basemaps [%d/%d] for %s\n", index, total, dir)
}

// Month announces a month about to be checked.
func (p *Progress) Month(token string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "    %s", token)
}

// Status reports the outcome of the current month and returns to line start.
func (p *Progress) Status(status string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "   %-6s\r", status)
}
