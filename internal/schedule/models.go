package schedule

import (
	"time"
)

// Pet represents a pet owned by a user in the document store
type Pet struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Weight          string     `json:"weight"`
	PhotoBase64     *string    `json:"photo_base64,omitempty"`
	LastPhotoUpdate *time.Time `json:"last_photo_update,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Meal represents a scheduled meal of a pet
type Meal struct {
	ID      string `json:"id"`
	PetID   string `json:"pet_id"`
	Portion int    `json:"portion"`
	Alarm   string `json:"alarm"`
	Active  bool   `json:"active"`
}

// Entry is a single schedule slot as the device understands it
type Entry struct {
	Time    string `json:"time"`
	Portion int    `json:"portion"`
	Enabled bool   `json:"enabled"`
}

// EntryFromMeal maps a meal to a device schedule entry
func EntryFromMeal(m Meal) Entry {
	return Entry{
		Time:    m.Alarm,
		Portion: m.Portion,
		Enabled: m.Active,
	}
}
