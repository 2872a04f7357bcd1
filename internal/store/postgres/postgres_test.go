package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderSchema(t *testing.T) {
	ddl, err := RenderSchema("feeder_changes")
	require.NoError(t, err)

	assert.Contains(t, ddl, "feeder_notify_change('feeder_changes')")
	assert.NotContains(t, ddl, "{{channel}}")
}

func TestValidateChannel(t *testing.T) {
	assert.NoError(t, ValidateChannel("feeder_changes"))
	assert.Error(t, ValidateChannel("feeder-changes"))
	assert.Error(t, ValidateChannel("x'); DROP TABLE pets; --"))
	assert.Error(t, ValidateChannel(""))
}

func TestParseChange(t *testing.T) {
	c, err := parseChange(`{"table":"meals","user_id":"u1","pet_id":"p1"}`)
	require.NoError(t, err)
	assert.Equal(t, change{Table: "meals", UserID: "u1", PetID: "p1"}, c)

	_, err = parseChange(`{"table":"meals"}`)
	assert.Error(t, err)
	_, err = parseChange(`nope`)
	assert.Error(t, err)
}

func TestPoolConfig(t *testing.T) {
	cfg, err := PoolConfig(config.StoreConfig{
		DatabaseURL:     "postgres://feeder:secret@db:5432/feeder",
		NotifyChannel:   "feeder_changes",
		MaxConns:        4,
		MinConns:        2,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  3 * time.Second,
	})
	require.NoError(t, err)

	// one extra for the change listener
	assert.Equal(t, int32(5), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, 3*time.Second, cfg.ConnConfig.ConnectTimeout)
	assert.Equal(t, "pawtelligent-feeder", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_Rejects(t *testing.T) {
	_, err := PoolConfig(config.StoreConfig{DatabaseURL: "postgres://db/feeder", NotifyChannel: "bad-channel"})
	assert.Error(t, err)

	_, err = PoolConfig(config.StoreConfig{DatabaseURL: "postgres://db:notaport/feeder", NotifyChannel: "feeder_changes"})
	assert.Error(t, err)
}

func TestParseIDs_MalformedIsNotFound(t *testing.T) {
	_, err := parseIDs("not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Integration test against a real database, set TEST_DATABASE_URL to run
func TestStore_LiveQueries(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	channel := "feeder_test_" + strings.ReplaceAll(time.Now().Format("150405.000"), ".", "")
	require.NoError(t, Migrate(ctx, pool, channel))

	s, err := NewStore(pool, channel, zap.NewNop())
	require.NoError(t, err)

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go s.Listen(listenCtx)

	userID := "it-" + channel
	mealSnapshots := make(chan []schedule.Meal, 16)

	pet, err := s.CreatePet(ctx, userID, schedule.Pet{Name: "Mochi", Weight: "4200"})
	require.NoError(t, err)

	unsub, err := s.WatchMeals(ctx, userID, pet.ID, func(meals []schedule.Meal, err error) {
		if err == nil {
			mealSnapshots <- meals
		}
	})
	require.NoError(t, err)
	defer unsub()
	assert.Empty(t, <-mealSnapshots)

	meal, err := s.CreateMeal(ctx, userID, pet.ID, schedule.Meal{Portion: 50, Alarm: "07:00", Active: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case meals := <-mealSnapshots:
			return len(meals) == 1 && meals[0].ID == meal.ID
		default:
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, s.SetMealActive(ctx, userID, pet.ID, meal.ID, false))
	got, err := s.GetMeal(ctx, userID, pet.ID, meal.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, s.DeleteMeal(ctx, userID, pet.ID, meal.ID))
	assert.ErrorIs(t, s.DeleteMeal(ctx, userID, pet.ID, meal.ID), store.ErrNotFound)
	assert.Equal(t, 1, s.hub.watchCount())
}
