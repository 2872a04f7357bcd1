package store

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/schedule"
)

// ErrNotFound is returned when a pet or meal does not exist
var ErrNotFound = errors.New("not found")

// Unsubscribe detaches a live query. Calling it more than once is safe.
type Unsubscribe func()

// PetsHandler receives the full pets snapshot of a user, ordered by
// creation time, or the error that stopped the query from refreshing
type PetsHandler func(pets []schedule.Pet, err error)

// MealsHandler receives the full meals snapshot of one pet
type MealsHandler func(meals []schedule.Meal, err error)

// LiveQuerier delivers a snapshot right after subscribing and again after
// every change to the watched collection. Handlers must not block.
type LiveQuerier interface {
	WatchPets(ctx context.Context, userID string, fn PetsHandler) (Unsubscribe, error)
	WatchMeals(ctx context.Context, userID, petID string, fn MealsHandler) (Unsubscribe, error)
}

// Store is the per-user document store: users/{user}/pets/{pet}/meals/{meal}
type Store interface {
	LiveQuerier

	GetPet(ctx context.Context, userID, petID string) (schedule.Pet, error)
	CreatePet(ctx context.Context, userID string, pet schedule.Pet) (schedule.Pet, error)
	UpdatePetWeight(ctx context.Context, userID, petID, weight string) error
	UpdatePetPhoto(ctx context.Context, userID, petID, photo string, at time.Time) error

	GetMeal(ctx context.Context, userID, petID, mealID string) (schedule.Meal, error)
	CreateMeal(ctx context.Context, userID, petID string, meal schedule.Meal) (schedule.Meal, error)
	SetMealActive(ctx context.Context, userID, petID, mealID string, active bool) error
	DeleteMeal(ctx context.Context, userID, petID, mealID string) error
}
