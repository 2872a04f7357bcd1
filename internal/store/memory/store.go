package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
)

type petSub struct {
	userID string
	fn     store.PetsHandler
}

type mealSub struct {
	userID string
	petID  string
	fn     store.MealsHandler
}

type userData struct {
	pets  map[string]schedule.Pet
	meals map[string]map[string]schedule.Meal
}

// Store is an in-process document store with live queries
type Store struct {
	// notifyMu orders mutation and delivery so snapshots reach handlers in
	// the order the changes happened
	notifyMu sync.Mutex

	mu       sync.Mutex
	users    map[string]*userData
	nextSub  int
	petSubs  map[int]petSub
	mealSubs map[int]mealSub
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*userData),
		petSubs:  make(map[int]petSub),
		mealSubs: make(map[int]mealSub),
		now:      time.Now,
	}
}

func (s *Store) user(userID string) *userData {
	u, ok := s.users[userID]
	if !ok {
		u = &userData{
			pets:  make(map[string]schedule.Pet),
			meals: make(map[string]map[string]schedule.Meal),
		}
		s.users[userID] = u
	}
	return u
}

func (s *Store) petsSnapshot(userID string) []schedule.Pet {
	u := s.user(userID)
	out := make([]schedule.Pet, 0, len(u.pets))
	for _, p := range u.pets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) mealsSnapshot(userID, petID string) []schedule.Meal {
	u := s.user(userID)
	out := make([]schedule.Meal, 0, len(u.meals[petID]))
	for _, m := range u.meals[petID] {
		out = append(out, m)
	}
	schedule.SortByAlarm(out)
	return out
}

// WatchPets delivers the pets snapshot of userID now and after every change
func (s *Store) WatchPets(ctx context.Context, userID string, fn store.PetsHandler) (store.Unsubscribe, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id required")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.petSubs[id] = petSub{userID: userID, fn: fn}
	snapshot := s.petsSnapshot(userID)
	s.mu.Unlock()

	fn(snapshot, nil)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.petSubs, id)
	}, nil
}

// WatchMeals delivers the meals snapshot of one pet now and after every change
func (s *Store) WatchMeals(ctx context.Context, userID, petID string, fn store.MealsHandler) (store.Unsubscribe, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(petID) == "" {
		return nil, errors.New("user id and pet id required")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.mealSubs[id] = mealSub{userID: userID, petID: petID, fn: fn}
	snapshot := s.mealsSnapshot(userID, petID)
	s.mu.Unlock()

	fn(snapshot, nil)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.mealSubs, id)
	}, nil
}

// SubscriptionCount returns the number of attached live queries
func (s *Store) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.petSubs) + len(s.mealSubs)
}

// notifyPets must be called with notifyMu held and mu released
func (s *Store) notifyPets(userID string) {
	s.mu.Lock()
	var handlers []store.PetsHandler
	for _, sub := range s.petSubs {
		if sub.userID == userID {
			handlers = append(handlers, sub.fn)
		}
	}
	snapshot := s.petsSnapshot(userID)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(append([]schedule.Pet(nil), snapshot...), nil)
	}
}

// notifyMeals must be called with notifyMu held and mu released
func (s *Store) notifyMeals(userID, petID string) {
	s.mu.Lock()
	var handlers []store.MealsHandler
	for _, sub := range s.mealSubs {
		if sub.userID == userID && sub.petID == petID {
			handlers = append(handlers, sub.fn)
		}
	}
	snapshot := s.mealsSnapshot(userID, petID)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(append([]schedule.Meal(nil), snapshot...), nil)
	}
}

func (s *Store) GetPet(ctx context.Context, userID, petID string) (schedule.Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.user(userID).pets[petID]
	if !ok {
		return schedule.Pet{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) CreatePet(ctx context.Context, userID string, pet schedule.Pet) (schedule.Pet, error) {
	if strings.TrimSpace(userID) == "" {
		return schedule.Pet{}, errors.New("user id required")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if pet.ID == "" {
		pet.ID = uuid.NewString()
	}
	pet.UserID = userID
	if pet.CreatedAt.IsZero() {
		pet.CreatedAt = s.now().UTC()
	}
	u := s.user(userID)
	if _, exists := u.pets[pet.ID]; exists {
		s.mu.Unlock()
		return schedule.Pet{}, errors.New("pet already exists")
	}
	u.pets[pet.ID] = pet
	s.mu.Unlock()

	s.notifyPets(userID)
	return pet, nil
}

func (s *Store) updatePet(userID, petID string, mutate func(p *schedule.Pet)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	u := s.user(userID)
	p, ok := u.pets[petID]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	mutate(&p)
	u.pets[petID] = p
	s.mu.Unlock()

	s.notifyPets(userID)
	return nil
}

func (s *Store) UpdatePetWeight(ctx context.Context, userID, petID, weight string) error {
	return s.updatePet(userID, petID, func(p *schedule.Pet) {
		p.Weight = weight
	})
}

func (s *Store) UpdatePetPhoto(ctx context.Context, userID, petID, photo string, at time.Time) error {
	return s.updatePet(userID, petID, func(p *schedule.Pet) {
		p.PhotoBase64 = &photo
		t := at.UTC()
		p.LastPhotoUpdate = &t
	})
}

// DeletePet removes a pet together with its meals
func (s *Store) DeletePet(ctx context.Context, userID, petID string) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	u := s.user(userID)
	if _, ok := u.pets[petID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(u.pets, petID)
	delete(u.meals, petID)
	s.mu.Unlock()

	s.notifyMeals(userID, petID)
	s.notifyPets(userID)
	return nil
}

func (s *Store) GetMeal(ctx context.Context, userID, petID, mealID string) (schedule.Meal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.user(userID).meals[petID][mealID]
	if !ok {
		return schedule.Meal{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) CreateMeal(ctx context.Context, userID, petID string, meal schedule.Meal) (schedule.Meal, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	u := s.user(userID)
	if _, ok := u.pets[petID]; !ok {
		s.mu.Unlock()
		return schedule.Meal{}, store.ErrNotFound
	}
	if meal.ID == "" {
		meal.ID = uuid.NewString()
	}
	meal.PetID = petID
	if u.meals[petID] == nil {
		u.meals[petID] = make(map[string]schedule.Meal)
	}
	u.meals[petID][meal.ID] = meal
	s.mu.Unlock()

	s.notifyMeals(userID, petID)
	return meal, nil
}

func (s *Store) SetMealActive(ctx context.Context, userID, petID, mealID string, active bool) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	meals := s.user(userID).meals[petID]
	m, ok := meals[mealID]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	m.Active = active
	meals[mealID] = m
	s.mu.Unlock()

	s.notifyMeals(userID, petID)
	return nil
}

func (s *Store) DeleteMeal(ctx context.Context, userID, petID, mealID string) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	meals := s.user(userID).meals[petID]
	if _, ok := meals[mealID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(meals, mealID)
	s.mu.Unlock()

	s.notifyMeals(userID, petID)
	return nil
}
