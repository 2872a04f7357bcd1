package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActiveEntries_FiltersInactive(t *testing.T) {
	meals := []Meal{
		{ID: "m1", Alarm: "07:00", Active: true, Portion: 50},
		{ID: "m2", Alarm: "18:30", Active: false, Portion: 30},
	}

	entries := ActiveEntries(meals)

	assert.Equal(t, []Entry{{Time: "07:00", Portion: 50, Enabled: true}}, entries)
}

func TestActiveEntries_EmptyIsNotNil(t *testing.T) {
	entries := ActiveEntries(nil)

	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestSortByAlarm(t *testing.T) {
	meals := []Meal{
		{ID: "a", Alarm: "18:30"},
		{ID: "b", Alarm: "07:00"},
		{ID: "c", Alarm: "12:15"},
	}

	SortByAlarm(meals)

	got := make([]string, 0, len(meals))
	for _, m := range meals {
		got = append(got, m.Alarm)
	}
	assert.Equal(t, []string{"07:00", "12:15", "18:30"}, got)
}

func TestSortByAlarm_TiesAreDeterministic(t *testing.T) {
	meals := []Meal{
		{ID: "m2", PetID: "p2", Alarm: "08:00"},
		{ID: "m1", PetID: "p1", Alarm: "08:00"},
		{ID: "m0", PetID: "p1", Alarm: "08:00"},
	}

	SortByAlarm(meals)

	assert.Equal(t, "m0", meals[0].ID)
	assert.Equal(t, "m1", meals[1].ID)
	assert.Equal(t, "m2", meals[2].ID)
}

func TestEqual(t *testing.T) {
	a := []Entry{{Time: "07:00", Portion: 50, Enabled: true}}
	b := []Entry{{Time: "07:00", Portion: 50, Enabled: true}}
	c := []Entry{{Time: "07:00", Portion: 40, Enabled: true}}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, []Entry{}))
}
