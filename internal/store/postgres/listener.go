package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"go.uber.org/zap"
)

const relistenDelay = 5 * time.Second

// change is the payload the row triggers send with pg_notify
type change struct {
	Table  string `json:"table"`
	UserID string `json:"user_id"`
	PetID  string `json:"pet_id"`
}

func parseChange(payload string) (change, error) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return change{}, fmt.Errorf("invalid change notification: %w", err)
	}
	if c.UserID == "" {
		return change{}, errors.New("change notification has no user_id")
	}
	return c, nil
}

type petWatch struct {
	userID string
	fn     store.PetsHandler
}

type mealWatch struct {
	userID string
	petID  string
	fn     store.MealsHandler
}

// hub tracks live queries and refreshes the ones a change touches
type hub struct {
	s      *Store
	logger *zap.Logger

	// deliverMu serialises snapshot reads and handler calls so every
	// handler sees snapshots in commit order
	deliverMu sync.Mutex

	mu     sync.Mutex
	nextID int
	pets   map[int]petWatch
	meals  map[int]mealWatch
}

func newHub(s *Store, logger *zap.Logger) *hub {
	return &hub{
		s:      s,
		logger: logger,
		pets:   make(map[int]petWatch),
		meals:  make(map[int]mealWatch),
	}
}

// WatchPets delivers the pets snapshot of userID now and after every change
func (s *Store) WatchPets(ctx context.Context, userID string, fn store.PetsHandler) (store.Unsubscribe, error) {
	h := s.hub
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	pets, err := s.listPets(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.pets[id] = petWatch{userID: userID, fn: fn}
	h.mu.Unlock()

	fn(pets, nil)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.pets, id)
	}, nil
}

// WatchMeals delivers the meals snapshot of one pet now and after every change
func (s *Store) WatchMeals(ctx context.Context, userID, petID string, fn store.MealsHandler) (store.Unsubscribe, error) {
	h := s.hub
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	meals, err := s.listMeals(ctx, s.pool, userID, petID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.meals[id] = mealWatch{userID: userID, petID: petID, fn: fn}
	h.mu.Unlock()

	fn(meals, nil)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.meals, id)
	}, nil
}

// Listen holds a dedicated connection on the change channel until ctx is
// cancelled, re-establishing it after failures. Every (re)listen refreshes
// all live queries so changes missed while disconnected are not lost.
func (s *Store) Listen(ctx context.Context) {
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener stopped, retrying",
			zap.Error(err),
			zap.Duration("retry_in", relistenDelay),
		)
		s.hub.failAll(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(relistenDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.channel, err)
	}
	s.logger.Info("listening for store changes", zap.String("channel", s.channel))

	s.hub.refreshAll(ctx)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c, err := parseChange(n.Payload)
		if err != nil {
			s.logger.Warn("ignoring store notification", zap.Error(err))
			continue
		}
		s.hub.apply(ctx, c)
	}
}

func (h *hub) apply(ctx context.Context, c change) {
	switch c.Table {
	case "pets":
		h.refreshPets(ctx, func(w petWatch) bool { return w.userID == c.UserID })
	case "meals":
		h.refreshMeals(ctx, func(w mealWatch) bool { return w.userID == c.UserID && w.petID == c.PetID })
	default:
		h.logger.Debug("notification for unknown table", zap.String("table", c.Table))
	}
}

func (h *hub) refreshAll(ctx context.Context) {
	h.refreshPets(ctx, func(petWatch) bool { return true })
	h.refreshMeals(ctx, func(mealWatch) bool { return true })
}

func (h *hub) refreshPets(ctx context.Context, match func(petWatch) bool) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	targets := make([]petWatch, 0)
	for _, w := range h.pets {
		if match(w) {
			targets = append(targets, w)
		}
	}
	h.mu.Unlock()

	snapshots := make(map[string][]schedule.Pet)
	errs := make(map[string]error)
	for _, w := range targets {
		if _, done := snapshots[w.userID]; !done && errs[w.userID] == nil {
			pets, err := h.s.listPets(ctx, h.s.pool, w.userID)
			if err != nil {
				errs[w.userID] = err
			} else {
				snapshots[w.userID] = pets
			}
		}
		if err := errs[w.userID]; err != nil {
			w.fn(nil, err)
			continue
		}
		w.fn(append([]schedule.Pet(nil), snapshots[w.userID]...), nil)
	}
}

func (h *hub) refreshMeals(ctx context.Context, match func(mealWatch) bool) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	targets := make([]mealWatch, 0)
	for _, w := range h.meals {
		if match(w) {
			targets = append(targets, w)
		}
	}
	h.mu.Unlock()

	for _, w := range targets {
		meals, err := h.s.listMeals(ctx, h.s.pool, w.userID, w.petID)
		if err != nil {
			w.fn(nil, err)
			continue
		}
		w.fn(meals, nil)
	}
}

// failAll tells every live query that updates are interrupted
func (h *hub) failAll(err error) {
	if err == nil {
		err = errors.New("change listener stopped")
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	pets := make([]petWatch, 0, len(h.pets))
	for _, w := range h.pets {
		pets = append(pets, w)
	}
	meals := make([]mealWatch, 0, len(h.meals))
	for _, w := range h.meals {
		meals = append(meals, w)
	}
	h.mu.Unlock()

	for _, w := range pets {
		w.fn(nil, err)
	}
	for _, w := range meals {
		w.fn(nil, err)
	}
}

// watchCount returns the number of attached live queries
func (h *hub) watchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.pets) + len(h.meals)
}
