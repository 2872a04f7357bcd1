package schedule

import (
	"sort"
)

// SortByAlarm orders meals by alarm string in place. Alarms are zero-padded
// HH:MM, so lexical order is chronological order. Ties fall back to pet and
// meal id to keep the result deterministic.
func SortByAlarm(meals []Meal) {
	sort.SliceStable(meals, func(i, j int) bool {
		if meals[i].Alarm != meals[j].Alarm {
			return meals[i].Alarm < meals[j].Alarm
		}
		if meals[i].PetID != meals[j].PetID {
			return meals[i].PetID < meals[j].PetID
		}
		return meals[i].ID < meals[j].ID
	})
}

// ActiveEntries derives the schedule the device should hold: every active
// meal, in the order given.
func ActiveEntries(meals []Meal) []Entry {
	entries := make([]Entry, 0, len(meals))
	for _, m := range meals {
		if !m.Active {
			continue
		}
		entries = append(entries, EntryFromMeal(m))
	}
	return entries
}

// Equal reports whether two schedules carry the same entries in the same order
func Equal(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
