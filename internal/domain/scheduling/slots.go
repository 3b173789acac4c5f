package scheduling

import (
	"sort"
	"time"
)

// DefaultSlotFailsafe bounds the slots generated from one window.
const DefaultSlotFailsafe = 30

// candidate is a slot computed from an availability window, not yet stored.
type candidate struct {
	availabilityID int64
	start, end     time.Time
}

type slotKey struct {
	availabilityID int64
	start, end     int64
}

func (c candidate) key() slotKey {
	return slotKey{c.availabilityID, c.start.Unix(), c.end.Unix()}
}

func keyOf(s *Slot) slotKey {
	return slotKey{s.AvailabilityID, s.StartDatetime.Unix(), s.EndDatetime.Unix()}
}

// generate lays out the appointment slots of day. Windows are cut into
// slot-sized pieces, a trailing partial piece is dropped and at most failsafe
// pieces come out of a single window. Slots overlapping an exception window
// are left out.
func generate(day time.Time, loc *time.Location, avs []*Availability, exceptions []*Exception, failsafe int) []candidate {
	type span struct{ from, to time.Time }
	var blocked []span
	for _, e := range exceptions {
		if from, to, ok := e.covers(day, loc); ok {
			blocked = append(blocked, span{from, to})
		}
	}
	overlaps := func(start, end time.Time) bool {
		for _, b := range blocked {
			if start.Before(b.to) && b.from.Before(end) {
				return true
			}
		}
		return false
	}

	weekday := Weekday(day)
	var out []candidate
	for _, av := range avs {
		if av.SlotType != SlotTypeAppointment || av.SlotSizeInMinutes <= 0 {
			continue
		}
		size := Clock(av.SlotSizeInMinutes * 60)
		for _, w := range av.Windows {
			if w.DayOfWeek != weekday {
				continue
			}
			cur := w.StartTime
			for i := 0; i < failsafe; i++ {
				next := cur + size
				if next > w.EndTime {
					break
				}
				start, end := cur.On(day, loc), next.On(day, loc)
				if !overlaps(start, end) {
					out = append(out, candidate{availabilityID: av.ID, start: start, end: end})
				}
				cur = next
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// missing drops the candidates that already exist as slots.
func missing(candidates []candidate, existing []*Slot) []candidate {
	have := make(map[slotKey]bool, len(existing))
	for _, s := range existing {
		have[keyOf(s)] = true
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if !have[c.key()] {
			out = append(out, c)
		}
	}
	return out
}

// visible hides unbooked slots that fall inside an exception window. Booked
// slots stay listed so their bookings can still be served.
func visible(slots []*Slot, day time.Time, loc *time.Location, exceptions []*Exception) []*Slot {
	out := make([]*Slot, 0, len(slots))
	for _, s := range slots {
		hidden := false
		if s.Allocated == 0 {
			for _, e := range exceptions {
				from, to, ok := e.covers(day, loc)
				if ok && s.StartDatetime.Before(to) && from.Before(s.EndDatetime) {
					hidden = true
					break
				}
			}
		}
		if !hidden {
			out = append(out, s)
		}
	}
	return out
}

// validateWindows rejects malformed windows and appointment windows that
// overlap on the same weekday.
func validateWindows(ws []Window) []string {
	var problems []string
	for i, w := range ws {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			problems = append(problems, "day_of_week must be between 0 and 6")
			continue
		}
		if w.StartTime >= w.EndTime {
			problems = append(problems, "start_time must be before end_time")
		}
		for _, o := range ws[:i] {
			if o.DayOfWeek == w.DayOfWeek && w.StartTime < o.EndTime && o.StartTime < w.EndTime {
				problems = append(problems, "availability windows overlap on day "+dayNames[w.DayOfWeek])
			}
		}
	}
	return problems
}

var dayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// overlapping reports whether any window of a shares a day and time with a
// window of b.
func overlapping(a, b []Window) bool {
	for _, w := range a {
		for _, o := range b {
			if o.DayOfWeek == w.DayOfWeek && w.StartTime < o.EndTime && o.StartTime < w.EndTime {
				return true
			}
		}
	}
	return false
}
