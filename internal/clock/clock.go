// Package clock schedules the daily batch and periodic ticks
package clock

import (
	"context"
	"fmt"
	"time"
)

// ParseDaily parses a time of day in HH:MM format
func ParseDaily(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextDaily returns the next occurrence of hour:minute strictly after now in the location of now
func NextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}

// Driver emits daily and periodic ticks until its context is done
type Driver struct {
	Daily    <-chan time.Time
	Periodic <-chan time.Time
}

// Start starts a driver, a zero period disables periodic ticks
func Start(ctx context.Context, loc *time.Location, hour, minute int, period time.Duration) *Driver {
	daily := make(chan time.Time, 1)
	periodic := make(chan time.Time, 1)
	go func() {
		for {
			now := time.Now().In(loc)
			timer := time.NewTimer(NextDaily(now, hour, minute).Sub(now))
			select {
			case t := <-timer.C:
				deliver(daily, t)
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	if period > 0 {
		go func() {
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				select {
				case t := <-ticker.C:
					deliver(periodic, t)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return &Driver{Daily: daily, Periodic: periodic}
}

// deliver drops the tick if the previous one is still pending
func deliver(ch chan time.Time, t time.Time) {
	select {
	case ch <- t:
	default:
	}
}
