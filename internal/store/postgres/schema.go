package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateChannel checks that a notification channel is a plain identifier
func ValidateChannel(channel string) error {
	if !channelPattern.MatchString(channel) {
		return fmt.Errorf("invalid notification channel %q", channel)
	}
	return nil
}

// RenderSchema returns the DDL with the notification channel filled in
func RenderSchema(channel string) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	return strings.ReplaceAll(schemaSQL, "{{channel}}", channel), nil
}

// Migrate creates tables and change triggers if they do not exist
func Migrate(ctx context.Context, pool *Pool, channel string) error {
	ddl, err := RenderSchema(channel)
	if err != nil {
		return err
	}
	// no arguments, so pgx sends this as one simple-protocol batch
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
	}
	return nil
}
