package services

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"bingohall/bingo"
	"bingohall/config"
	"bingohall/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testBaseDomain = "bingo.test"

// sampleCard fits the 3x3, 1..9 rounds created by createGame.
var sampleCard = [][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}

// setupTestDB opens a private in-memory SQLite database with the schema applied.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := config.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err, "Failed to open in-memory DB")
	require.NoError(t, models.Migrate(db), "Failed to migrate")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) named(name EventName) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type testEngine struct {
	db          *gorm.DB
	store       *Store
	pool        *bingo.NumberPool
	games       *GameService
	patterns    *PatternService
	cards       *CardService
	tenants     *TenantService
	coordinator *Coordinator
	events      *eventRecorder
	tenantID    uint
}

func newTestEngine(t *testing.T, claimTimeout time.Duration, cache *RoundCache) *testEngine {
	t.Helper()

	db := setupTestDB(t)
	log := zap.NewNop().Sugar()
	store := NewStore(db)
	pool := bingo.NewNumberPool(rand.New(rand.NewSource(1)))
	machine := NewRoundStateMachine(store, pool, log)
	verifier := NewWinnerVerifier(store, machine, log)

	e := &testEngine{
		db:          db,
		store:       store,
		pool:        pool,
		games:       NewGameService(db),
		patterns:    NewPatternService(db),
		cards:       NewCardService(store, pool, log),
		tenants:     NewTenantService(db, testBaseDomain),
		coordinator: NewCoordinator(store, machine, verifier, cache, claimTimeout, log),
		events:      &eventRecorder{},
	}
	e.coordinator.Subscribe(e.events)
	t.Cleanup(e.coordinator.Close)

	tenant, err := e.tenants.CreateTenant(context.Background(), "acme", "Acme Halls")
	require.NoError(t, err)
	e.tenantID = tenant.ID
	return e
}

func (e *testEngine) createPattern(t *testing.T, name string, cells [][]int) models.Pattern {
	t.Helper()
	pattern, err := e.patterns.CreatePattern(context.Background(), e.tenantID, &CreatePatternRequest{
		Name:  name,
		Type:  bingo.PatternStatic,
		Cells: cells,
	})
	require.NoError(t, err)
	return *pattern
}

func (e *testEngine) topRow(t *testing.T) models.Pattern {
	return e.createPattern(t, "Top row", [][]int{{0, 0}, {0, 1}, {0, 2}})
}

// createGame creates a game of 3x3 rounds over 1..9 on shop 1.
func (e *testEngine) createGame(t *testing.T, policy models.WinnerPolicy, rounds int, patternIDs ...uint) *models.Game {
	t.Helper()

	req := &CreateGameRequest{ShopID: 1, Name: "Friday night", Currency: "USD"}
	for i := 0; i < rounds; i++ {
		req.Rounds = append(req.Rounds, CreateRoundRequest{
			Name:         "Round",
			Prize:        50,
			Rows:         3,
			Cols:         3,
			MinRange:     1,
			MaxRange:     9,
			WinnerPolicy: policy,
			PatternIDs:   patternIDs,
		})
	}
	game, err := e.games.CreateGame(context.Background(), e.tenantID, req)
	require.NoError(t, err)
	require.Len(t, game.Rounds, rounds)
	return game
}

func (e *testEngine) round(t *testing.T, id uint) *models.Round {
	t.Helper()
	round, err := e.store.GetRound(context.Background(), id)
	require.NoError(t, err)
	return round
}

func (e *testEngine) callN(t *testing.T, game *models.Game, roundID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := e.coordinator.CallNext(context.Background(), game.ID, roundID)
		require.NoError(t, err)
		require.False(t, res.Exhausted)
	}
}

// queued counts jobs waiting behind the one currently running.
func (a *roundArena) queued(roundID uint) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if act, ok := a.actors[roundID]; ok {
		return len(act.queue)
	}
	return 0
}
