package scheduler

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Finder searches forward from a requested instant for the first free slot
// inside business hours.
type Finder struct {
	checker *Checker
	opts    Options
}

// NewFinder creates a new slot finder on top of checker.
func NewFinder(checker *Checker, opts Options) *Finder {
	return &Finder{checker: checker, opts: opts.normalize()}
}

// Candidates yields the instants the finder would try for requested, in order.
// Each candidate is one slot after the previous one unless it had to be moved
// to the next day's opening time. The sequence ends once a candidate would lie
// past requested plus the lookahead.
func (f *Finder) Candidates(requested time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		limit := requested.Add(f.opts.MaxLookahead)
		for c := f.snap(requested); !c.After(limit); c = f.snap(c.Add(f.opts.Slot)) {
			if !yield(c) {
				return
			}
		}
	}
}

// FindSlot returns the first free candidate for requested. Events owned by the
// task ids in except do not block a slot.
func (f *Finder) FindSlot(ctx context.Context, requested time.Time, except ...string) (time.Time, error) {
	for c := range f.Candidates(requested) {
		if err := ctx.Err(); err != nil {
			return time.Time{}, unavailable("search slots", err)
		}
		free, err := f.checker.IsFree(ctx, c, f.opts.Slot, except...)
		if err != nil {
			return time.Time{}, err
		}
		if free {
			return c, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: nothing free within %s of %s",
		ErrNoSlotAvailable, f.opts.MaxLookahead, requested.In(f.opts.Location).Format(time.DateTime))
}

// InBusinessHours reports whether t may start a slot.
func (f *Finder) InBusinessHours(t time.Time) bool {
	h := t.In(f.opts.Location).Hour()
	return h >= f.opts.OpenHour && h < f.opts.CloseHour
}

// snap moves t to the next day's opening time when it falls outside business hours.
func (f *Finder) snap(t time.Time) time.Time {
	if f.InBusinessHours(t) {
		return t
	}
	local := t.In(f.opts.Location)
	return time.Date(local.Year(), local.Month(), local.Day()+1, f.opts.OpenHour, 0, 0, 0, f.opts.Location)
}
