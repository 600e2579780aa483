// Package log provides console progress feedback for long training
// runs. Structured logging stays on zerolog; this is the human-facing
// progress line the CLI prints alongside it.
package log

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Progress renders a single-line progress bar over a fixed number of
// training windows.
type Progress struct {
	mu        sync.Mutex
	name      string
	total     int
	current   int
	failed    int
	startTime time.Time
	quiet     bool
}

// NewProgress creates a progress bar for total windows. A quiet bar
// records counts but prints nothing, for non-interactive runs.
func NewProgress(name string, total int, quiet bool) *Progress {
	return &Progress{
		name:      name,
		total:     total,
		startTime: time.Now(),
		quiet:     quiet,
	}
}

// WindowDone advances the bar by one finished window
func (p *Progress) WindowDone(succeeded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if !succeeded {
		p.failed++
	}
	p.print()
}

// Finish prints the terminal summary line
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet {
		return
	}

	duration := time.Since(p.startTime).Round(time.Millisecond)
	if p.failed > 0 {
		fmt.Printf("\r\033[K%s: %d windows, %d failed (%v)\n", p.name, p.current, p.failed, duration)
		return
	}
	fmt.Printf("\r\033[K%s: %d windows completed (%v)\n", p.name, p.current, duration)
}

// Fail prints a failure line and stops updating
func (p *Progress) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet {
		return
	}
	fmt.Printf("\r\033[K%s failed: %s\n", p.name, reason)
}

func (p *Progress) print() {
	if p.quiet || p.total <= 0 {
		return
	}

	var out strings.Builder
	out.WriteString("\r\033[K")
	out.WriteString(p.name)

	barWidth := 20
	filled := barWidth * p.current / p.total
	out.WriteString(" [")
	for i := 0; i < barWidth; i++ {
		if i < filled {
			out.WriteString("█")
		} else {
			out.WriteString("░")
		}
	}
	out.WriteString(fmt.Sprintf("] %d/%d", p.current, p.total))
	if p.failed > 0 {
		out.WriteString(fmt.Sprintf(" (%d failed)", p.failed))
	}

	if p.current > 0 && p.current < p.total {
		elapsed := time.Since(p.startTime)
		rate := float64(p.current) / elapsed.Seconds()
		eta := time.Duration(float64(p.total-p.current)/rate) * time.Second
		out.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
	}

	fmt.Print(out.String())
}
