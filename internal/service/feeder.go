package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"github.com/septivank/pawtelligent-feeder/internal/validator"
	"go.uber.org/zap"
)

// PhotoPrefix is prepended to stored pet photos
const PhotoPrefix = "data:image/jpeg;base64,"

// FeederService runs the user actions of the feeder app: store writes
// followed by the matching device command
type FeederService struct {
	store     store.Store
	publisher *mq.Publisher
	validator *validator.Validator
	userID    string
	logger    *zap.Logger
	now       func() time.Time
}

// NewFeederService creates a service acting on behalf of userID
func NewFeederService(
	st store.Store,
	publisher *mq.Publisher,
	validator *validator.Validator,
	userID string,
	logger *zap.Logger,
) *FeederService {
	return &FeederService{
		store:     st,
		publisher: publisher,
		validator: validator,
		userID:    userID,
		logger:    logger,
		now:       time.Now,
	}
}

// AddPet creates a pet
func (s *FeederService) AddPet(ctx context.Context, name, weight string) (schedule.Pet, error) {
	if err := s.validator.ValidatePet(name, weight); err != nil {
		return schedule.Pet{}, err
	}

	pet, err := s.store.CreatePet(ctx, s.userID, schedule.Pet{Name: name, Weight: weight})
	if err != nil {
		s.logger.Error("failed to add pet", zap.Error(err))
		return schedule.Pet{}, fmt.Errorf("failed to add pet: %w", err)
	}

	logging.WithPetID(s.logger, pet.ID).Info("pet added", zap.String("name", pet.Name))
	return pet, nil
}

// UpdateWeight changes a pet's recorded weight
func (s *FeederService) UpdateWeight(ctx context.Context, petID, weight string) error {
	logger := logging.WithPetID(s.logger, petID)

	if err := s.validator.ValidateWeight(weight); err != nil {
		return err
	}
	if err := s.store.UpdatePetWeight(ctx, s.userID, petID, weight); err != nil {
		logger.Error("failed to update weight", zap.Error(err))
		return fmt.Errorf("failed to update weight: %w", err)
	}

	logger.Info("pet weight updated", zap.String("weight", weight))
	return nil
}

// SavePhoto stores a base64 JPEG on the pet. Oversized images are rejected
// before anything is written.
func (s *FeederService) SavePhoto(ctx context.Context, petID, base64Image string) error {
	logger := logging.WithPetID(s.logger, petID)

	if err := s.validator.ValidatePhoto(base64Image); err != nil {
		logger.Warn("photo rejected", zap.Error(err), zap.Int("size", validator.PhotoSize(base64Image)))
		return err
	}

	if err := s.store.UpdatePetPhoto(ctx, s.userID, petID, PhotoPrefix+base64Image, s.now()); err != nil {
		logger.Error("failed to save photo", zap.Error(err))
		return fmt.Errorf("failed to save image: %w", err)
	}

	logger.Info("photo saved", zap.Int("size", validator.PhotoSize(base64Image)))
	return nil
}

// AddMeal creates an active meal and announces the new slot to the device
func (s *FeederService) AddMeal(ctx context.Context, petID string, portion int, alarm string) (schedule.Meal, error) {
	logger := logging.WithPetID(s.logger, petID)

	normalized, err := s.validator.ValidateMeal(portion, alarm)
	if err != nil {
		return schedule.Meal{}, err
	}

	meal, err := s.store.CreateMeal(ctx, s.userID, petID, schedule.Meal{
		Portion: portion,
		Alarm:   normalized,
		Active:  true,
	})
	if err != nil {
		logger.Error("failed to add meal", zap.Error(err))
		return schedule.Meal{}, fmt.Errorf("failed to add meal schedule: %w", err)
	}

	// The write is authoritative; the full schedule is republished by the
	// sync bridge, so a lost command is only logged
	if err := s.publisher.AddMealSchedule(ctx, schedule.EntryFromMeal(meal)); err != nil {
		logger.Warn("meal added but add command not delivered", zap.Error(err))
	}

	logger.Info("meal added",
		zap.String("meal_id", meal.ID),
		zap.String("alarm", meal.Alarm),
		zap.Int("portion", meal.Portion),
	)
	return meal, nil
}

// ToggleMeal flips a meal's active flag and announces it to the device
func (s *FeederService) ToggleMeal(ctx context.Context, petID, mealID string) (schedule.Meal, error) {
	logger := logging.WithPetID(s.logger, petID).With(zap.String("meal_id", mealID))

	meal, err := s.store.GetMeal(ctx, s.userID, petID, mealID)
	if err != nil {
		logger.Error("failed to load meal", zap.Error(err))
		return schedule.Meal{}, fmt.Errorf("failed to update meal status: %w", err)
	}

	meal.Active = !meal.Active
	if err := s.store.SetMealActive(ctx, s.userID, petID, mealID, meal.Active); err != nil {
		logger.Error("failed to toggle meal", zap.Error(err))
		return schedule.Meal{}, fmt.Errorf("failed to update meal status: %w", err)
	}

	if err := s.publisher.ToggleMealSchedule(ctx, schedule.EntryFromMeal(meal)); err != nil {
		logger.Warn("meal toggled but toggle command not delivered", zap.Error(err))
	}

	logger.Info("meal toggled", zap.Bool("active", meal.Active))
	return meal, nil
}

// DeleteMeal removes a meal and its slot on the device
func (s *FeederService) DeleteMeal(ctx context.Context, petID, mealID string) error {
	logger := logging.WithPetID(s.logger, petID).With(zap.String("meal_id", mealID))

	meal, err := s.store.GetMeal(ctx, s.userID, petID, mealID)
	if err != nil {
		logger.Error("failed to load meal", zap.Error(err))
		return fmt.Errorf("failed to delete meal: %w", err)
	}

	if err := s.store.DeleteMeal(ctx, s.userID, petID, mealID); err != nil {
		logger.Error("failed to delete meal", zap.Error(err))
		return fmt.Errorf("failed to delete meal: %w", err)
	}

	if err := s.publisher.DeleteMealSchedule(ctx, meal.Alarm); err != nil {
		logger.Warn("meal deleted but delete command not delivered", zap.Error(err))
	}

	logger.Info("meal deleted", zap.String("alarm", meal.Alarm))
	return nil
}

// FeedNow dispenses amount grams immediately. Unlike schedule edits it
// fails while the device is unreachable.
func (s *FeederService) FeedNow(ctx context.Context, amount int) error {
	if amount <= 0 {
		return &validator.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !s.publisher.IsConnected() {
		return mq.ErrNotConnected
	}

	if err := s.publisher.FeedNow(ctx, amount); err != nil {
		if !errors.Is(err, mq.ErrRateLimited) {
			s.logger.Error("feed now failed", zap.Int("amount", amount), zap.Error(err))
		}
		return err
	}

	s.logger.Info("feed now sent", zap.Int("amount", amount))
	return nil
}
