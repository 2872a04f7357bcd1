package syncbridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Start on a running bridge
var ErrAlreadyStarted = errors.New("sync bridge already started")

// DefaultAttachRetryDelay is how long the bridge waits before attaching a
// meals query again after WatchMeals failed
const DefaultAttachRetryDelay = 5 * time.Second

// SchedulePublisher sends the full schedule to the device
type SchedulePublisher interface {
	UpdateFullSchedule(ctx context.Context, entries []schedule.Entry) error
}

// ConnectNotifier runs hooks after every broker (re)connect
type ConnectNotifier interface {
	OnConnect(hook func())
}

type eventKind int

const (
	petsChanged eventKind = iota
	mealsChanged
	brokerConnected
	attachRetry
)

type event struct {
	kind  eventKind
	petID string
	child *child
	pets  []schedule.Pet
	meals []schedule.Meal
	err   error
}

// child is the meals live query of one pet. unsub is nil while the query
// is not attached.
type child struct {
	petID  string
	unsub  store.Unsubscribe
	loaded bool
}

func (c *child) detach() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// run is the state of one Start..Stop cycle. Everything except q, ctx and
// done is owned by the loop goroutine.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	q      *queue
	done   chan struct{}

	petsUnsub  store.Unsubscribe
	pets       []schedule.Pet
	children   map[string]*child
	mealsByPet map[string][]schedule.Meal

	synced       bool
	lastSchedule []schedule.Entry
	retry        *time.Timer
}

// Bridge keeps the merged view of a user's pets and meals current and the
// device schedule equal to the active meals. Store snapshots and broker
// connects are handled one at a time on a single goroutine.
type Bridge struct {
	store     store.LiveQuerier
	userID    string
	publisher SchedulePublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// RetryDelay is the wait before a failed meals query is attached again
	RetryDelay time.Duration

	mu      sync.Mutex
	current *run

	viewMu sync.RWMutex
	view   View
}

// New creates a bridge for userID. Reconnects reported by notifier trigger
// a schedule republish.
func New(
	st store.LiveQuerier,
	userID string,
	publisher SchedulePublisher,
	notifier ConnectNotifier,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Bridge {
	b := &Bridge{
		store:     st,
		userID:    userID,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		view:      Merge(nil, nil),

		RetryDelay: DefaultAttachRetryDelay,
	}
	if notifier != nil {
		notifier.OnConnect(b.notifyConnected)
	}
	return b
}

// Start attaches the pets live query and begins processing snapshots
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:        runCtx,
		cancel:     cancel,
		q:          newQueue(),
		done:       make(chan struct{}),
		children:   make(map[string]*child),
		mealsByPet: make(map[string][]schedule.Meal),
	}

	go b.loop(r)

	unsub, err := b.store.WatchPets(ctx, b.userID, func(pets []schedule.Pet, err error) {
		r.q.push(event{kind: petsChanged, pets: pets, err: err})
	})
	if err != nil {
		cancel()
		<-r.done
		return err
	}
	r.petsUnsub = unsub
	b.current = r

	b.logger.Info("sync bridge started", zap.String("user_id", b.userID))
	return nil
}

// Stop detaches every live query and waits for the loop to exit
func (b *Bridge) Stop() {
	b.mu.Lock()
	r := b.current
	b.current = nil
	b.mu.Unlock()

	if r == nil {
		return
	}

	r.petsUnsub()
	r.cancel()
	<-r.done

	b.logger.Info("sync bridge stopped")
}

// View returns the latest merged view
func (b *Bridge) View() View {
	b.viewMu.RLock()
	defer b.viewMu.RUnlock()

	return b.view
}

func (b *Bridge) notifyConnected() {
	b.mu.Lock()
	r := b.current
	b.mu.Unlock()

	if r != nil {
		r.q.push(event{kind: brokerConnected})
	}
}

func (b *Bridge) loop(r *run) {
	defer close(r.done)
	defer func() {
		r.q.close()
		if r.retry != nil {
			r.retry.Stop()
		}
		for _, c := range r.children {
			c.detach()
		}
		r.children = nil
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.q.ready:
			for _, ev := range r.q.drain() {
				if r.ctx.Err() != nil {
					return
				}
				b.handle(r, ev)
			}
		}
	}
}

func (b *Bridge) handle(r *run, ev event) {
	switch ev.kind {
	case petsChanged:
		if ev.err != nil {
			b.logger.Error("pets live query failed", zap.Error(ev.err))
			return
		}
		r.pets = ev.pets
		b.reconcile(r)
		b.refresh(r, false)

	case mealsChanged:
		if r.children[ev.petID] != ev.child {
			// snapshot from a query that was detached meanwhile
			return
		}
		if ev.err != nil {
			logging.WithPetID(b.logger, ev.petID).Error("meals live query failed", zap.Error(ev.err))
			return
		}
		ev.child.loaded = true
		r.mealsByPet[ev.petID] = ev.meals
		b.refresh(r, false)

	case brokerConnected:
		b.refresh(r, true)

	case attachRetry:
		r.retry = nil
		b.reconcile(r)
		b.refresh(r, false)
	}
}

// reconcile attaches a meals query per new pet and detaches the ones of
// removed pets, dropping their meals. A pet whose query could not be
// attached stays in children unloaded and is retried after RetryDelay.
func (b *Bridge) reconcile(r *run) {
	wanted := make(map[string]bool, len(r.pets))
	for _, p := range r.pets {
		wanted[p.ID] = true
	}

	for petID, c := range r.children {
		if wanted[petID] {
			continue
		}
		c.detach()
		delete(r.children, petID)
		delete(r.mealsByPet, petID)
		logging.WithPetID(b.logger, petID).Debug("detached meals query")
	}

	for _, p := range r.pets {
		c, ok := r.children[p.ID]
		if ok && c.unsub != nil {
			continue
		}
		if !ok {
			c = &child{petID: p.ID}
			r.children[p.ID] = c
		}
		b.attach(r, c)
	}
}

func (b *Bridge) attach(r *run, c *child) {
	logger := logging.WithPetID(b.logger, c.petID)

	unsub, err := b.store.WatchMeals(r.ctx, b.userID, c.petID, func(meals []schedule.Meal, err error) {
		r.q.push(event{kind: mealsChanged, petID: c.petID, child: c, meals: meals, err: err})
	})
	if err != nil {
		logger.Error("failed to attach meals query", zap.Error(err), zap.Duration("retry_in", b.RetryDelay))
		b.scheduleRetry(r)
		return
	}
	c.unsub = unsub
	logger.Debug("attached meals query")
}

func (b *Bridge) scheduleRetry(r *run) {
	if r.retry != nil {
		return
	}
	r.retry = time.AfterFunc(b.RetryDelay, func() {
		r.q.push(event{kind: attachRetry})
	})
}

// refresh recomputes the view and pushes the schedule when it differs from
// the last one the device accepted, or unconditionally when force is set.
// Nothing is pushed while any pet has not delivered its first meals
// snapshot, so the device never sees a partial schedule.
func (b *Bridge) refresh(r *run, force bool) {
	view := Merge(r.pets, r.mealsByPet)

	b.viewMu.Lock()
	b.view = view
	b.viewMu.Unlock()

	for _, c := range r.children {
		if !c.loaded {
			if force {
				r.synced = false
			}
			return
		}
	}

	entries := view.Schedule()
	if !force && r.synced && schedule.Equal(entries, r.lastSchedule) {
		return
	}

	if err := b.publisher.UpdateFullSchedule(r.ctx, entries); err != nil {
		r.synced = false
		b.logger.Warn("failed to publish schedule", zap.Error(err), zap.Int("entries", len(entries)))
		return
	}

	r.synced = true
	r.lastSchedule = entries
	b.metrics.SchedulePublishes.Inc()
	b.logger.Info("schedule published", zap.Int("entries", len(entries)), zap.Bool("reconnect", force))
}
