package scheduler

import "time"

// Options configures business hours and slot geometry.
type Options struct {
	Location      *time.Location
	OpenHour      int           // first bookable hour, local time
	CloseHour     int           // slots may not start at or after this hour
	Slot          time.Duration // fixed slot granularity
	MaxLookahead  time.Duration // how far past the requested instant the finder searches
	ChannelPrefix string        // scheme prefix stored on some senders, e.g. "whatsapp:"
}

// DefaultOptions returns 09:00-17:00 business hours with 15 minute slots.
func DefaultOptions() Options {
	return Options{
		Location:      time.UTC,
		OpenHour:      9,
		CloseHour:     17,
		Slot:          15 * time.Minute,
		MaxLookahead:  30 * 24 * time.Hour,
		ChannelPrefix: "whatsapp:",
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.OpenHour < 0 || o.OpenHour > 23 || o.CloseHour <= o.OpenHour || o.CloseHour > 24 {
		o.OpenHour, o.CloseHour = d.OpenHour, d.CloseHour
	}
	if o.Slot <= 0 {
		o.Slot = d.Slot
	}
	if o.MaxLookahead <= 0 {
		o.MaxLookahead = d.MaxLookahead
	}
	return o
}
