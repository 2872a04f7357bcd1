package validator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/septivank/pawtelligent-feeder/tools/timeparser"
)

var (
	// ErrInvalid is matched by every ValidationError
	ErrInvalid = errors.New("invalid input")
	// ErrPhotoTooLarge is returned for images above the configured limit
	ErrPhotoTooLarge = errors.New("image too large")
)

// ValidationError names the offending field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validator checks user input before it is written
type Validator struct {
	maxPhotoBytes int
}

// NewValidator creates a validator that rejects photos above maxPhotoBytes
func NewValidator(maxPhotoBytes int) *Validator {
	return &Validator{
		maxPhotoBytes: maxPhotoBytes,
	}
}

// ValidatePet checks a new pet's name and weight
func (v *Validator) ValidatePet(name, weight string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "must not be empty")
	}
	return v.ValidateWeight(weight)
}

// ValidateWeight checks that weight is a non-negative number
func (v *Validator) ValidateWeight(weight string) error {
	value, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
	if err != nil {
		return invalid("weight", "must be a number")
	}
	if value < 0 {
		return invalid("weight", "negative value")
	}
	return nil
}

// ValidateMeal checks portion and alarm and returns the alarm as HH:MM
func (v *Validator) ValidateMeal(portion int, alarm string) (string, error) {
	if portion <= 0 {
		return "", invalid("portion", "must be greater than zero")
	}
	normalized, err := timeparser.NormalizeAlarm(alarm)
	if err != nil {
		return "", invalid("alarm", err.Error())
	}
	return normalized, nil
}

// ValidatePhoto checks a raw base64 image
func (v *Validator) ValidatePhoto(base64Image string) error {
	if base64Image == "" {
		return invalid("photo", "must not be empty")
	}
	if size := PhotoSize(base64Image); size > v.maxPhotoBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPhotoTooLarge, size, v.maxPhotoBytes)
	}
	return nil
}

// PhotoSize approximates the decoded size of a base64 string
func PhotoSize(base64Image string) int {
	return len(base64Image) * 3 / 4
}
