// Package progress renders tracked uploads in the terminal. The Board
// follows the event bus and keeps one mpb bar per cloth; when output is
// not a terminal it falls back to one plain line per change.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/util/sanitize"
)

// Board is a live view of the upload registry.
type Board struct {
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool

	mu    sync.Mutex
	bars  map[int64]*clothBar
	conn  string
	lines map[int64]string // last plain line per cloth, non-TTY only
}

type clothBar struct {
	bar   *mpb.Bar
	label atomic.Pointer[string]
	done  bool
}

// NewBoard creates a board writing to out. Bars are drawn only when out
// is a terminal.
func NewBoard(out io.Writer) *Board {
	b := NewPlainBoard(out)
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enableANSI(f)
		b.isTerminal = true
		b.progress = mpb.New(
			mpb.WithOutput(f),
			mpb.WithRefreshRate(constants.ProgressRefreshInterval),
			mpb.WithWidth(60),
		)
	}
	return b
}

// NewPlainBoard creates a board that always prints plain lines.
func NewPlainBoard(out io.Writer) *Board {
	return &Board{
		out:   out,
		bars:  make(map[int64]*clothBar),
		lines: make(map[int64]string),
	}
}

// IsTerminal reports whether bars are being drawn.
func (b *Board) IsTerminal() bool {
	return b.isTerminal
}

// Writer returns a writer that prints above the bars.
func (b *Board) Writer() io.Writer {
	if b.progress != nil {
		return b.progress
	}
	return b.out
}

// Seed draws the initial registry contents in creation order.
func (b *Board) Seed(records []models.UploadRecord) {
	sorted := append([]models.UploadRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range sorted {
		b.upsert(rec)
	}
}

// Run applies events from ch, usually a bus subscription, until ctx is
// done or ch is closed.
func (b *Board) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.Apply(ev)
		}
	}
}

// Apply renders a single event.
func (b *Board) Apply(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case *events.UploadEvent:
		if e.Type() == events.EventUploadRemoved {
			b.remove(e.Record.ClothID, e.Dismissed)
			return
		}
		b.upsert(e.Record)
	case *events.ReplacedEvent:
		keep := make(map[int64]bool, len(e.Records))
		for _, rec := range e.Records {
			keep[rec.ClothID] = true
			b.upsert(rec)
		}
		for id := range b.bars {
			if !keep[id] {
				b.remove(id, false)
			}
		}
		for id := range b.lines {
			if !keep[id] {
				delete(b.lines, id)
			}
		}
	case *events.ConnectionEvent:
		if e.State == b.conn {
			return
		}
		b.conn = e.State
		line := "push: " + e.State
		if e.Err != nil {
			line += " (" + e.Err.Error() + ")"
		}
		fmt.Fprintln(b.Writer(), line)
	}
}

// Close stops drawing. Bars that have not finished are left in place.
func (b *Board) Close() {
	b.mu.Lock()
	for _, cb := range b.bars {
		if !cb.done {
			cb.bar.Abort(false)
		}
	}
	b.mu.Unlock()
	if b.progress != nil {
		b.progress.Wait()
	}
}

func (b *Board) upsert(rec models.UploadRecord) {
	label := describe(rec)
	if !b.isTerminal {
		line := label
		if !rec.Status.IsTerminal() {
			line = fmt.Sprintf("%s  %d%%", label, rec.ProgressPercentage)
		}
		if b.lines[rec.ClothID] != line {
			b.lines[rec.ClothID] = line
			fmt.Fprintln(b.out, line)
		}
		return
	}

	cb, ok := b.bars[rec.ClothID]
	if !ok {
		cb = &clothBar{}
		cb.label.Store(&label)
		cb.bar = b.progress.New(100,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(decor.Statistics) string { return *cb.label.Load() }, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
				decor.Any(func(s decor.Statistics) string {
					switch {
					case s.Aborted:
						return " ✗"
					case s.Completed:
						return " ✓"
					}
					return ""
				}),
			),
		)
		b.bars[rec.ClothID] = cb
	}
	if cb.done {
		return
	}
	cb.label.Store(&label)

	switch rec.Status {
	case models.StatusReadyForReview:
		cb.bar.SetCurrent(100)
		cb.bar.SetTotal(100, true)
		cb.done = true
	case models.StatusFailed:
		cb.bar.SetCurrent(int64(rec.ProgressPercentage))
		cb.bar.Abort(false)
		cb.done = true
	default:
		cb.bar.SetCurrent(int64(rec.ProgressPercentage))
	}
}

func (b *Board) remove(clothID int64, dismissed bool) {
	if !b.isTerminal {
		if _, ok := b.lines[clothID]; ok && dismissed {
			fmt.Fprintf(b.out, "cloth #%d dismissed\n", clothID)
		}
		delete(b.lines, clothID)
		return
	}
	if cb, ok := b.bars[clothID]; ok {
		cb.bar.Abort(true)
		delete(b.bars, clothID)
	}
}

func describe(rec models.UploadRecord) string {
	step := sanitize.Line(rec.CurrentStep)
	switch rec.Status {
	case models.StatusReadyForReview:
		step = "ready for review"
	case models.StatusFailed:
		step = "failed"
		if msg := sanitize.Line(rec.ErrorMessage); msg != "" {
			step += ": " + msg
		}
	}
	if step == "" {
		step = rec.Status.Label()
	}
	return fmt.Sprintf("cloth #%d  %s", rec.ClothID, truncate(step, 48))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
