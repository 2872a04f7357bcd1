package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"go.uber.org/zap"
)

// querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL document store. Live queries are fed by a
// LISTEN connection on the change channel the triggers notify.
type Store struct {
	pool    *Pool
	logger  *zap.Logger
	channel string
	hub     *hub
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store on pool. Call Listen to start delivering live
// query updates.
func NewStore(pool *Pool, channel string, logger *zap.Logger) (*Store, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	s := &Store{
		pool:    pool,
		logger:  logger,
		channel: channel,
	}
	s.hub = newHub(s, logger)
	return s, nil
}

const petColumns = `id::text, user_id, name, weight, photo_base64, last_photo_update, created_at`

func scanPet(row pgx.Row) (schedule.Pet, error) {
	var p schedule.Pet
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Weight,
		&p.PhotoBase64,
		&p.LastPhotoUpdate,
		&p.CreatedAt,
	)
	return p, err
}

const mealColumns = `id::text, pet_id::text, portion, alarm, active`

func scanMeal(row pgx.Row) (schedule.Meal, error) {
	var m schedule.Meal
	err := row.Scan(
		&m.ID,
		&m.PetID,
		&m.Portion,
		&m.Alarm,
		&m.Active,
	)
	return m, err
}

func (s *Store) listPets(ctx context.Context, q querier, userID string) ([]schedule.Pet, error) {
	query := `
		SELECT ` + petColumns + `
		FROM pets
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pets: %w", err)
	}
	defer rows.Close()

	pets := make([]schedule.Pet, 0)
	for rows.Next() {
		p, err := scanPet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pet: %w", err)
		}
		pets = append(pets, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pets, nil
}

func (s *Store) listMeals(ctx context.Context, q querier, userID, petID string) ([]schedule.Meal, error) {
	query := `
		SELECT ` + mealColumns + `
		FROM meals
		WHERE user_id = $1 AND pet_id = $2
		ORDER BY alarm ASC, id ASC
	`

	id, err := uuid.Parse(petID)
	if err != nil {
		// not a stored id, so there are no meals for it
		return []schedule.Meal{}, nil
	}

	rows, err := q.Query(ctx, query, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	meals := make([]schedule.Meal, 0)
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return meals, nil
}

// parseIDs validates document ids; malformed ids cannot exist in the store
func parseIDs(ids ...string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, store.ErrNotFound
		}
		out = append(out, id)
	}
	return out, nil
}

// GetPet retrieves a pet of userID
func (s *Store) GetPet(ctx context.Context, userID, petID string) (schedule.Pet, error) {
	ids, err := parseIDs(petID)
	if err != nil {
		return schedule.Pet{}, err
	}

	query := `SELECT ` + petColumns + ` FROM pets WHERE user_id = $1 AND id = $2`

	p, err := scanPet(s.pool.QueryRow(ctx, query, userID, ids[0]))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Pet{}, store.ErrNotFound
	}
	if err != nil {
		return schedule.Pet{}, fmt.Errorf("failed to query pet: %w", err)
	}
	return p, nil
}

// CreatePet inserts a pet owned by userID
func (s *Store) CreatePet(ctx context.Context, userID string, pet schedule.Pet) (schedule.Pet, error) {
	id := uuid.New()
	if pet.ID != "" {
		parsed, err := uuid.Parse(pet.ID)
		if err != nil {
			return schedule.Pet{}, fmt.Errorf("invalid pet id: %w", err)
		}
		id = parsed
	}
	createdAt := pet.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pets (user_id, id, name, weight, photo_base64, last_photo_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + petColumns

	created, err := scanPet(s.pool.QueryRow(ctx, query,
		userID,
		id,
		pet.Name,
		pet.Weight,
		pet.PhotoBase64,
		pet.LastPhotoUpdate,
		createdAt,
	))
	if err != nil {
		return schedule.Pet{}, fmt.Errorf("failed to create pet: %w", err)
	}
	return created, nil
}

// UpdatePetWeight sets the weight of a pet
func (s *Store) UpdatePetWeight(ctx context.Context, userID, petID, weight string) error {
	ids, err := parseIDs(petID)
	if err != nil {
		return err
	}

	query := `UPDATE pets SET weight = $1 WHERE user_id = $2 AND id = $3`

	tag, err := s.pool.Exec(ctx, query, weight, userID, ids[0])
	if err != nil {
		return fmt.Errorf("failed to update pet weight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdatePetPhoto stores an inline photo and its update time
func (s *Store) UpdatePetPhoto(ctx context.Context, userID, petID, photo string, at time.Time) error {
	ids, err := parseIDs(petID)
	if err != nil {
		return err
	}

	query := `UPDATE pets SET photo_base64 = $1, last_photo_update = $2 WHERE user_id = $3 AND id = $4`

	tag, err := s.pool.Exec(ctx, query, photo, at.UTC(), userID, ids[0])
	if err != nil {
		return fmt.Errorf("failed to update pet photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetMeal retrieves a meal of a pet
func (s *Store) GetMeal(ctx context.Context, userID, petID, mealID string) (schedule.Meal, error) {
	ids, err := parseIDs(petID, mealID)
	if err != nil {
		return schedule.Meal{}, err
	}

	query := `SELECT ` + mealColumns + ` FROM meals WHERE user_id = $1 AND pet_id = $2 AND id = $3`

	m, err := scanMeal(s.pool.QueryRow(ctx, query, userID, ids[0], ids[1]))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Meal{}, store.ErrNotFound
	}
	if err != nil {
		return schedule.Meal{}, fmt.Errorf("failed to query meal: %w", err)
	}
	return m, nil
}

// CreateMeal inserts a meal under a pet, failing with ErrNotFound when the
// pet does not exist
func (s *Store) CreateMeal(ctx context.Context, userID, petID string, meal schedule.Meal) (schedule.Meal, error) {
	ids, err := parseIDs(petID)
	if err != nil {
		return schedule.Meal{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return schedule.Meal{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pets WHERE user_id = $1 AND id = $2)`, userID, ids[0]).Scan(&exists)
	if err != nil {
		return schedule.Meal{}, fmt.Errorf("failed to query pet: %w", err)
	}
	if !exists {
		return schedule.Meal{}, store.ErrNotFound
	}

	query := `
		INSERT INTO meals (user_id, pet_id, id, portion, alarm, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + mealColumns

	created, err := scanMeal(tx.QueryRow(ctx, query,
		userID,
		ids[0],
		uuid.New(),
		meal.Portion,
		meal.Alarm,
		meal.Active,
	))
	if err != nil {
		return schedule.Meal{}, fmt.Errorf("failed to create meal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return schedule.Meal{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// SetMealActive enables or disables a meal
func (s *Store) SetMealActive(ctx context.Context, userID, petID, mealID string, active bool) error {
	ids, err := parseIDs(petID, mealID)
	if err != nil {
		return err
	}

	query := `UPDATE meals SET active = $1 WHERE user_id = $2 AND pet_id = $3 AND id = $4`

	tag, err := s.pool.Exec(ctx, query, active, userID, ids[0], ids[1])
	if err != nil {
		return fmt.Errorf("failed to update meal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMeal removes a meal
func (s *Store) DeleteMeal(ctx context.Context, userID, petID, mealID string) error {
	ids, err := parseIDs(petID, mealID)
	if err != nil {
		return err
	}

	query := `DELETE FROM meals WHERE user_id = $1 AND pet_id = $2 AND id = $3`

	tag, err := s.pool.Exec(ctx, query, userID, ids[0], ids[1])
	if err != nil {
		return fmt.Errorf("failed to delete meal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
