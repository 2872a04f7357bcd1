package syncbridge

import (
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
)

// MealView is a meal annotated with its pet's name
type MealView struct {
	schedule.Meal
	PetName string `json:"pet_name"`
}

// View is the merged state of a user's pets and meals
type View struct {
	Pets  []schedule.Pet `json:"pets"`
	Meals []MealView     `json:"meals"`
}

// Merge builds the view from the latest pets snapshot and the latest meals
// snapshot of each pet. It has no side effects and the result depends only
// on its inputs: meals of pets not in pets are ignored, a pet missing from
// mealsByPet contributes nothing, and meals are ordered by alarm.
func Merge(pets []schedule.Pet, mealsByPet map[string][]schedule.Meal) View {
	names := make(map[string]string, len(pets))
	all := make([]schedule.Meal, 0)
	for _, p := range pets {
		if _, seen := names[p.ID]; seen {
			continue
		}
		names[p.ID] = p.Name
		for _, m := range mealsByPet[p.ID] {
			m.PetID = p.ID
			all = append(all, m)
		}
	}
	schedule.SortByAlarm(all)

	view := View{
		Pets:  append([]schedule.Pet{}, pets...),
		Meals: make([]MealView, 0, len(all)),
	}
	for _, m := range all {
		view.Meals = append(view.Meals, MealView{Meal: m, PetName: names[m.PetID]})
	}
	return view
}

// Schedule derives the device schedule from a view
func (v View) Schedule() []schedule.Entry {
	meals := make([]schedule.Meal, 0, len(v.Meals))
	for _, m := range v.Meals {
		meals = append(meals, m.Meal)
	}
	return schedule.ActiveEntries(meals)
}
