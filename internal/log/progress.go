package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SpinnerStyle selects the frames drawn in front of a progress line
type SpinnerStyle string

const (
	SpinnerDots SpinnerStyle = "dots"
	SpinnerLine SpinnerStyle = "line"
	SpinnerNone SpinnerStyle = "none"
)

func spinnerFrames(style SpinnerStyle) []string {
	switch style {
	case SpinnerLine:
		return []string{"-", "\\", "|", "/"}
	case SpinnerNone:
		return nil
	default:
		return []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	}
}

// ProgressConfig configures progress rendering
type ProgressConfig struct {
	ShowProgress bool
	ShowETA      bool
	SpinnerStyle SpinnerStyle
	MinInterval  time.Duration // redraw throttle; the final update always draws
}

// DefaultProgressConfig draws a bar with ETA for interactive terminals
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{ShowProgress: true, ShowETA: true, SpinnerStyle: SpinnerDots, MinInterval: 100 * time.Millisecond}
}

// QuietProgressConfig draws nothing until Finish
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{SpinnerStyle: SpinnerNone}
}

// ProgressIndicator renders done/total for scenario sweeps on one terminal line
type ProgressIndicator struct {
	mu        sync.Mutex
	out       io.Writer
	name      string
	total     int
	current   int
	frame     int
	cfg       ProgressConfig
	startTime time.Time
	lastDraw  time.Time
	now       func() time.Time
}

// NewProgressIndicator creates an indicator writing to out
func NewProgressIndicator(out io.Writer, name string, total int, cfg ProgressConfig) *ProgressIndicator {
	return &ProgressIndicator{
		out:       out,
		name:      name,
		total:     total,
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Callback adapts the indicator to a done/total progress function
func (pi *ProgressIndicator) Callback() func(done, total int) {
	return func(done, total int) {
		pi.mu.Lock()
		pi.total = total
		pi.mu.Unlock()
		pi.Update(done)
	}
}

// Increment advances progress by one step
func (pi *ProgressIndicator) Increment() {
	pi.mu.Lock()
	next := pi.current + 1
	pi.mu.Unlock()
	pi.Update(next)
}

// Update sets the completed count and redraws when due
func (pi *ProgressIndicator) Update(current int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = current
	if !pi.cfg.ShowProgress && !pi.cfg.ShowETA {
		return
	}
	now := pi.now()
	final := pi.total > 0 && current >= pi.total
	if !final && pi.cfg.MinInterval > 0 && now.Sub(pi.lastDraw) < pi.cfg.MinInterval {
		return
	}
	pi.lastDraw = now
	fmt.Fprint(pi.out, pi.render(now))
}

// Finish completes the line with a summary
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	elapsed := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	fmt.Fprintf(pi.out, "\r\033[K%s completed (%d runs, %v)\n", pi.name, pi.total, elapsed)
	log.Debug().Str("task", pi.name).Int("runs", pi.total).Dur("elapsed", elapsed).Msg("progress finished")
}

// Fail completes the line with a failure reason
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	elapsed := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	fmt.Fprintf(pi.out, "\r\033[K%s failed after %d/%d: %s (%v)\n", pi.name, pi.current, pi.total, reason, elapsed)
}

func (pi *ProgressIndicator) render(now time.Time) string {
	var b strings.Builder
	b.WriteString("\r\033[K")

	if frames := spinnerFrames(pi.cfg.SpinnerStyle); len(frames) > 0 {
		b.WriteString(frames[pi.frame%len(frames)])
		b.WriteString(" ")
		pi.frame++
	}
	b.WriteString(pi.name)

	if pi.cfg.ShowProgress && pi.total > 0 {
		const barWidth = 20
		filled := barWidth * pi.current / pi.total
		if filled > barWidth {
			filled = barWidth
		}
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&b, "] %d/%d (%.1f%%)", pi.current, pi.total, float64(pi.current)/float64(pi.total)*100)
	} else if pi.total > 0 {
		fmt.Fprintf(&b, " (%d/%d)", pi.current, pi.total)
	}

	if pi.cfg.ShowETA && pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := now.Sub(pi.startTime)
		perRun := elapsed / time.Duration(pi.current)
		eta := perRun * time.Duration(pi.total-pi.current)
		if eta > time.Hour {
			fmt.Fprintf(&b, " ETA: %v", eta.Round(time.Minute))
		} else {
			fmt.Fprintf(&b, " ETA: %v", eta.Round(time.Second))
		}
	}
	return b.String()
}
