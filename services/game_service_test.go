package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bingohall/bingo"
	"bingohall/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGameStoresRoundsInOrder(t *testing.T) {
	e := newTestEngine(t, time.Minute, nil)
	top := e.topRow(t)
	left := e.createPattern(t, "Left column", [][]int{{0, 0}, {1, 0}, {2, 0}})
	ctx := context.Background()

	start := time.Now().Add(time.Hour).UTC()
	game, err := e.games.CreateGame(ctx, e.tenantID, &CreateGameRequest{
		ShopID:           4,
		Name:             "Saturday",
		EntryFee:         2.5,
		Currency:         "EUR",
		ScheduledStartAt: &start,
		Rounds: []CreateRoundRequest{
			{Name: "Opener", Rows: 5, Cols: 5, MinRange: 1, MaxRange: 75, FreeSpace: true, FreeRow: 2, FreeCol: 2, PatternIDs: []uint{left.ID, top.ID}},
			{Name: "Jackpot", Prize: 500, Rows: 3, Cols: 3, MinRange: 1, MaxRange: 9, WinnerPolicy: models.MultipleWinners, PatternIDs: []uint{top.ID}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.GamePending, game.Status)
	assert.Equal(t, 2, game.TotalRounds)
	require.Len(t, game.Rounds, 2)
	assert.Equal(t, 1, game.Rounds[0].Number)
	assert.Equal(t, models.FirstWinnerWins, game.Rounds[0].WinnerPolicy)
	assert.Equal(t, models.MultipleWinners, game.Rounds[1].WinnerPolicy)
	assert.Equal(t, models.RoundPending, game.Rounds[1].Status)

	patterns, err := e.store.RoundPatterns(ctx, game.Rounds[0].ID)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, left.ID, patterns[0].ID)
	assert.Equal(t, top.ID, patterns[1].ID)

	_, err = e.games.GetGame(ctx, e.tenantID+1, game.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGameValidation(t *testing.T) {
	e := newTestEngine(t, time.Minute, nil)
	top := e.topRow(t)
	wide := e.createPattern(t, "Fifth column", [][]int{{0, 4}, {1, 4}, {2, 4}})
	wideVariant, err := e.patterns.CreatePattern(context.Background(), e.tenantID, &CreatePatternRequest{
		Name:     "Any top or bottom row",
		Type:     bingo.PatternDynamic,
		Cells:    [][]int{{0, 0}, {0, 1}, {0, 2}},
		Variants: [][][]int{{{4, 0}, {4, 1}, {4, 2}}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	round := func(mod func(*CreateRoundRequest)) CreateRoundRequest {
		r := CreateRoundRequest{Name: "R", Rows: 3, Cols: 3, MinRange: 1, MaxRange: 9, PatternIDs: []uint{top.ID}}
		if mod != nil {
			mod(&r)
		}
		return r
	}
	later := time.Now().Add(time.Hour)
	earlier := time.Now()

	tests := []struct {
		name string
		req  CreateGameRequest
	}{
		{"no rounds", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD"}},
		{"end before start", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", ScheduledStartAt: &later, ScheduledEndAt: &earlier, Rounds: []CreateRoundRequest{round(nil)}}},
		{"grid too small", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.Rows = 2 })}}},
		{"inverted range", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.MinRange = 9; r.MaxRange = 1 })}}},
		{"unknown policy", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.WinnerPolicy = "everyone" })}}},
		{"no patterns", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.PatternIDs = nil })}}},
		{"unknown pattern", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.PatternIDs = []uint{999} })}}},
		{"repeated pattern", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.PatternIDs = []uint{top.ID, top.ID} })}}},
		{"pattern off the card", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.PatternIDs = []uint{wide.ID} })}}},
		{"variant off the card", CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(func(r *CreateRoundRequest) { r.PatternIDs = []uint{wideVariant.ID} })}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.games.CreateGame(ctx, e.tenantID, &tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	// Failed creations leave nothing behind.
	var games int64
	require.NoError(t, e.db.Model(&models.Game{}).Count(&games).Error)
	assert.Zero(t, games)

	// Patterns of another tenant are unknown.
	_, err = e.games.CreateGame(ctx, e.tenantID+1, &CreateGameRequest{ShopID: 1, Name: "g", Currency: "USD", Rounds: []CreateRoundRequest{round(nil)}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreatePattern(t *testing.T) {
	e := newTestEngine(t, time.Minute, nil)
	ctx := context.Background()
	noFree := false

	p, err := e.patterns.CreatePattern(ctx, e.tenantID, &CreatePatternRequest{
		Name:           "Any corner pair",
		Type:           bingo.PatternDynamic,
		Cells:          [][]int{{0, 0}, {0, 2}},
		Variants:       [][][]int{{{2, 0}, {2, 2}}},
		AllowFreeSpace: &noFree,
	})
	require.NoError(t, err)

	stored, err := e.patterns.GetPattern(ctx, e.tenantID, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.AllowFreeSpace)

	matcher, err := stored.Matcher()
	require.NoError(t, err)
	assert.Equal(t, bingo.Shape{{Row: 0, Col: 0}, {Row: 0, Col: 2}}, matcher.Shape)
	require.Len(t, matcher.Variants, 1)
	assert.Equal(t, bingo.Shape{{Row: 2, Col: 0}, {Row: 2, Col: 2}}, matcher.Variants[0])

	list, err := e.patterns.ListPatterns(ctx, e.tenantID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = e.patterns.GetPattern(ctx, e.tenantID+1, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	invalid := []*CreatePatternRequest{
		{Type: bingo.PatternStatic, Cells: [][]int{{0, 0}}},
		{Name: "x", Type: "wavy", Cells: [][]int{{0, 0}}},
		{Name: "x", Type: bingo.PatternStatic},
		{Name: "x", Type: bingo.PatternStatic, Cells: [][]int{{0}}},
		{Name: "x", Type: bingo.PatternStatic, Cells: [][]int{{-1, 0}}},
		{Name: "x", Type: bingo.PatternStatic, Cells: [][]int{{0, 0}}, Variants: [][][]int{{{1, 1}}}},
		{Name: "x", Type: bingo.PatternDynamic, Cells: [][]int{{0, 0}}, Variants: [][][]int{{}}},
	}
	for i, req := range invalid {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := e.patterns.CreatePattern(ctx, e.tenantID, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestIssueCard(t *testing.T) {
	e := newTestEngine(t, time.Minute, nil)
	game := e.createGame(t, models.FirstWinnerWins, 1, e.topRow(t).ID)
	roundID := game.Rounds[0].ID
	ctx := context.Background()

	card, err := e.cards.IssueCard(ctx, game.ID, roundID, "player-1")
	require.NoError(t, err)
	layout, err := card.Grid()
	require.NoError(t, err)
	assert.NoError(t, e.round(t, roundID).Grid().ValidateCard(layout))

	_, err = e.cards.IssueCard(ctx, game.ID, roundID, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = e.cards.IssueCard(ctx, game.ID+1, roundID, "player-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.coordinator.Cancel(ctx, game.ID, roundID, "operator"))
	_, err = e.cards.IssueCard(ctx, game.ID, roundID, "player-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrInvalidTransition), "invalid_transition"},
		{fmt.Errorf("x: %w", ErrRoundAlreadyActive), "round_already_active"},
		{context.Canceled, "call_interrupted"},
		{ErrPermissionDenied, "permission_denied"},
		{ErrNotFound, "not_found"},
		{bingo.ErrInvalidCard, "invalid_request"},
		{ErrStaleState, "conflict"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("disk on fire"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}
