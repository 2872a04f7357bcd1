package syncbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"github.com/septivank/pawtelligent-feeder/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUser = "user-1"

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published [][]schedule.Entry
}

func (p *fakePublisher) UpdateFullSchedule(ctx context.Context, entries []schedule.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, entries)
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.published)
}

func (p *fakePublisher) last() []schedule.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.published) == 0 {
		return nil
	}
	return p.published[len(p.published)-1]
}

type fakeNotifier struct {
	mu    sync.Mutex
	hooks []func()
}

func (n *fakeNotifier) OnConnect(hook func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.hooks = append(n.hooks, hook)
}

func (n *fakeNotifier) connect() {
	n.mu.Lock()
	hooks := append([]func(){}, n.hooks...)
	n.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}

// flakyMeals fails WatchMeals for one pet until healed
type flakyMeals struct {
	*memory.Store

	mu       sync.Mutex
	failPet  string
	attempts int
}

func (f *flakyMeals) WatchMeals(ctx context.Context, userID, petID string, fn store.MealsHandler) (store.Unsubscribe, error) {
	f.mu.Lock()
	failing := petID == f.failPet
	if failing {
		f.attempts++
	}
	f.mu.Unlock()

	if failing {
		return nil, errors.New("connection reset")
	}
	return f.Store.WatchMeals(ctx, userID, petID, fn)
}

func (f *flakyMeals) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failPet = ""
}

func (f *flakyMeals) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}

type fixture struct {
	bridge    *Bridge
	store     *memory.Store
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
	}
	f.bridge = New(f.store, testUser, f.publisher, f.notifier, zap.NewNop(), metrics.NewUnregistered())
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()

	require.NoError(t, f.bridge.Start(context.Background()))
	t.Cleanup(f.bridge.Stop)
}

func (f *fixture) addPet(t *testing.T, name string) schedule.Pet {
	t.Helper()

	pet, err := f.store.CreatePet(context.Background(), testUser, schedule.Pet{Name: name, Weight: "4"})
	require.NoError(t, err)
	return pet
}

func (f *fixture) addMeal(t *testing.T, petID, alarm string, portion int, active bool) schedule.Meal {
	t.Helper()

	meal, err := f.store.CreateMeal(context.Background(), testUser, petID, schedule.Meal{
		Portion: portion,
		Alarm:   alarm,
		Active:  active,
	})
	require.NoError(t, err)
	return meal
}

// storeSchedule is what the device should hold according to the store
func (f *fixture) storeSchedule(t *testing.T, pets ...schedule.Pet) []schedule.Entry {
	t.Helper()

	var meals []schedule.Meal
	for _, p := range pets {
		var snapshot []schedule.Meal
		unsub, err := f.store.WatchMeals(context.Background(), testUser, p.ID, func(got []schedule.Meal, err error) {
			snapshot = got
		})
		require.NoError(t, err)
		unsub()
		meals = append(meals, snapshot...)
	}
	schedule.SortByAlarm(meals)
	return schedule.ActiveEntries(meals)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestBridge_EmptyUserPublishesEmptySchedule(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	eventually(t, func() bool { return f.publisher.count() == 1 })
	assert.Empty(t, f.publisher.last())
	assert.NotNil(t, f.publisher.last())
	assert.Empty(t, f.bridge.View().Meals)
}

func TestBridge_MergesMealsAcrossPets(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	bean := f.addPet(t, "Bean")
	f.addMeal(t, mochi.ID, "18:00", 40, true)
	f.addMeal(t, bean.ID, "07:30", 25, true)
	f.addMeal(t, mochi.ID, "12:00", 10, false)

	f.start(t)

	eventually(t, func() bool { return len(f.bridge.View().Meals) == 3 })

	view := f.bridge.View()
	assert.Len(t, view.Pets, 2)
	assert.Equal(t, "07:30", view.Meals[0].Alarm)
	assert.Equal(t, "Bean", view.Meals[0].PetName)
	assert.Equal(t, "12:00", view.Meals[1].Alarm)
	assert.Equal(t, "Mochi", view.Meals[2].PetName)

	eventually(t, func() bool {
		return schedule.Equal(f.publisher.last(), []schedule.Entry{
			{Time: "07:30", Portion: 25, Enabled: true},
			{Time: "18:00", Portion: 40, Enabled: true},
		})
	})
}

func TestBridge_NoPartialScheduleOnStart(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	f.addMeal(t, mochi.ID, "08:00", 30, true)

	f.start(t)

	eventually(t, func() bool { return f.publisher.count() >= 1 })
	f.bridge.Stop()

	assert.Equal(t, 1, f.publisher.count())
	assert.Len(t, f.publisher.last(), 1)
}

func TestBridge_FollowsMealChanges(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	f.start(t)
	ctx := context.Background()

	meal := f.addMeal(t, mochi.ID, "08:00", 30, true)
	eventually(t, func() bool { return len(f.publisher.last()) == 1 })
	published := f.publisher.count()

	require.NoError(t, f.store.SetMealActive(ctx, testUser, mochi.ID, meal.ID, false))
	eventually(t, func() bool {
		return f.publisher.count() > published && len(f.publisher.last()) == 0
	})

	require.NoError(t, f.store.SetMealActive(ctx, testUser, mochi.ID, meal.ID, true))
	f.addMeal(t, mochi.ID, "06:00", 20, true)
	eventually(t, func() bool {
		return schedule.Equal(f.publisher.last(), f.storeSchedule(t, mochi))
	})
	assert.Equal(t, "06:00", f.publisher.last()[0].Time)

	require.NoError(t, f.store.DeleteMeal(ctx, testUser, mochi.ID, meal.ID))
	eventually(t, func() bool {
		return schedule.Equal(f.publisher.last(), f.storeSchedule(t, mochi)) && len(f.publisher.last()) == 1
	})
}

func TestBridge_HoldsScheduleWhileMealsQueryFails(t *testing.T) {
	mem := memory.NewStore()
	ctx := context.Background()
	mochi, err := mem.CreatePet(ctx, testUser, schedule.Pet{Name: "Mochi", Weight: "4"})
	require.NoError(t, err)
	bean, err := mem.CreatePet(ctx, testUser, schedule.Pet{Name: "Bean", Weight: "3"})
	require.NoError(t, err)
	_, err = mem.CreateMeal(ctx, testUser, mochi.ID, schedule.Meal{Portion: 10, Alarm: "07:00", Active: true})
	require.NoError(t, err)
	_, err = mem.CreateMeal(ctx, testUser, bean.ID, schedule.Meal{Portion: 20, Alarm: "08:00", Active: true})
	require.NoError(t, err)

	flaky := &flakyMeals{Store: mem, failPet: bean.ID}
	publisher := &fakePublisher{}
	bridge := New(flaky, testUser, publisher, nil, zap.NewNop(), metrics.NewUnregistered())
	bridge.RetryDelay = 20 * time.Millisecond

	require.NoError(t, bridge.Start(ctx))
	t.Cleanup(bridge.Stop)

	eventually(t, func() bool { return flaky.attemptCount() >= 2 })
	assert.Equal(t, 0, publisher.count())

	flaky.heal()

	eventually(t, func() bool {
		return schedule.Equal(publisher.last(), []schedule.Entry{
			{Time: "07:00", Portion: 10, Enabled: true},
			{Time: "08:00", Portion: 20, Enabled: true},
		})
	})
	assert.Equal(t, 1, publisher.count())
	assert.Equal(t, 3, mem.SubscriptionCount())
}

func TestBridge_RemovedPetIsDetached(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	bean := f.addPet(t, "Bean")
	f.addMeal(t, mochi.ID, "08:00", 30, true)
	f.addMeal(t, bean.ID, "09:00", 20, true)
	f.start(t)

	// one pets query plus one meals query per pet
	eventually(t, func() bool { return f.store.SubscriptionCount() == 3 })
	eventually(t, func() bool { return len(f.publisher.last()) == 2 })

	require.NoError(t, f.store.DeletePet(context.Background(), testUser, bean.ID))

	eventually(t, func() bool { return f.store.SubscriptionCount() == 2 })
	eventually(t, func() bool { return len(f.bridge.View().Pets) == 1 })

	view := f.bridge.View()
	require.Len(t, view.Meals, 1)
	assert.Equal(t, mochi.ID, view.Meals[0].PetID)
	eventually(t, func() bool {
		return schedule.Equal(f.publisher.last(), []schedule.Entry{{Time: "08:00", Portion: 30, Enabled: true}})
	})
}

func TestBridge_PetWithoutMeals(t *testing.T) {
	f := newFixture(t)
	f.addPet(t, "Mochi")
	f.start(t)

	eventually(t, func() bool { return f.store.SubscriptionCount() == 2 && f.publisher.count() == 1 })

	view := f.bridge.View()
	assert.Len(t, view.Pets, 1)
	assert.Empty(t, view.Meals)
	assert.Empty(t, f.publisher.last())
}

func TestBridge_RepublishesOnReconnect(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	f.addMeal(t, mochi.ID, "08:00", 30, true)
	f.start(t)

	eventually(t, func() bool { return f.publisher.count() == 1 })
	before := f.publisher.last()

	f.notifier.connect()

	eventually(t, func() bool { return f.publisher.count() == 2 })
	assert.Equal(t, before, f.publisher.last())
}

func TestBridge_RetriesAfterFailedPublish(t *testing.T) {
	f := newFixture(t)
	f.publisher.setErr(errors.New("not connected"))
	mochi := f.addPet(t, "Mochi")
	f.start(t)

	f.addMeal(t, mochi.ID, "08:00", 30, true)
	eventually(t, func() bool { return len(f.bridge.View().Meals) == 1 })
	assert.Equal(t, 0, f.publisher.count())

	f.publisher.setErr(nil)
	f.notifier.connect()

	eventually(t, func() bool { return f.publisher.count() == 1 })
	assert.Len(t, f.publisher.last(), 1)
}

func TestBridge_StopDetachesEverything(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	f.addMeal(t, mochi.ID, "08:00", 30, true)

	require.NoError(t, f.bridge.Start(context.Background()))
	eventually(t, func() bool { return f.store.SubscriptionCount() == 2 })

	f.bridge.Stop()
	assert.Equal(t, 0, f.store.SubscriptionCount())

	// hooks after stop are ignored
	count := f.publisher.count()
	f.notifier.connect()
	f.addMeal(t, mochi.ID, "09:00", 30, true)
	assert.Equal(t, count, f.publisher.count())

	f.bridge.Stop()
}

func TestBridge_StartTwice(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	assert.ErrorIs(t, f.bridge.Start(context.Background()), ErrAlreadyStarted)
}

func TestBridge_Restart(t *testing.T) {
	f := newFixture(t)
	mochi := f.addPet(t, "Mochi")
	f.addMeal(t, mochi.ID, "08:00", 30, true)

	require.NoError(t, f.bridge.Start(context.Background()))
	eventually(t, func() bool { return f.publisher.count() == 1 })
	f.bridge.Stop()

	f.start(t)
	eventually(t, func() bool { return f.publisher.count() == 2 })
	assert.Equal(t, 2, f.store.SubscriptionCount())
}

func TestBridge_ConcurrentWritesConverge(t *testing.T) {
	f := newFixture(t)
	pets := []schedule.Pet{f.addPet(t, "Mochi"), f.addPet(t, "Bean"), f.addPet(t, "Kiwi")}
	f.start(t)

	alarms := []string{"06:00", "07:15", "12:30", "18:45", "21:00"}
	var wg sync.WaitGroup
	for i, p := range pets {
		wg.Add(1)
		go func(i int, p schedule.Pet) {
			defer wg.Done()
			for j, alarm := range alarms {
				_, err := f.store.CreateMeal(context.Background(), testUser, p.ID, schedule.Meal{
					Portion: 10 * (i + 1),
					Alarm:   alarm,
					Active:  (i+j)%2 == 0,
				})
				assert.NoError(t, err)
			}
		}(i, p)
	}
	wg.Wait()

	want := f.storeSchedule(t, pets...)
	eventually(t, func() bool { return schedule.Equal(f.publisher.last(), want) })
	assert.Len(t, f.bridge.View().Meals, len(pets)*len(alarms))
}
