package services

import (
	"context"
	"fmt"

	"bingohall/bingo"
	"bingohall/models"

	"go.uber.org/zap"
)

// Verdict is the outcome of evaluating one claim. A verified verdict carries
// the pattern that matched.
type Verdict struct {
	Verified  bool
	Reason    models.RejectReason
	PatternID *uint
}

func (v Verdict) Status() models.ClaimStatus {
	if v.Verified {
		return models.ClaimVerified
	}
	return models.ClaimRejected
}

func reject(reason models.RejectReason) Verdict {
	return Verdict{Reason: reason}
}

// ClaimInput is everything a claim is judged against.
type ClaimInput struct {
	Round         *models.Round
	Patterns      []models.Pattern // in round order
	ParticipantID string
	PatternID     *uint // nil: any of the round's patterns
	Layout        [][]int
	IssuedLayouts [][][]int // the participant's server-issued cards, if any
	Called        bingo.NumberSet
	Verified      []models.WinnerClaim // claims already verified in the round
}

// WinnerVerifier judges claims and records the outcome.
type WinnerVerifier struct {
	store   *Store
	machine *RoundStateMachine
	log     *zap.SugaredLogger
}

func NewWinnerVerifier(store *Store, machine *RoundStateMachine, log *zap.SugaredLogger) *WinnerVerifier {
	return &WinnerVerifier{store: store, machine: machine, log: log}
}

// Evaluate applies the claim checks in order: card, pattern eligibility,
// winner policy, round status, then the pattern match itself.
func (v *WinnerVerifier) Evaluate(in ClaimInput) Verdict {
	grid := in.Round.Grid()
	if err := grid.ValidateCard(in.Layout); err != nil {
		return reject(models.RejectInvalidCard)
	}
	if len(in.IssuedLayouts) > 0 && !matchesAny(in.Layout, in.IssuedLayouts) {
		return reject(models.RejectInvalidCard)
	}

	candidates := in.Patterns
	if in.PatternID != nil {
		candidates = nil
		for _, p := range in.Patterns {
			if p.ID == *in.PatternID {
				candidates = []models.Pattern{p}
				break
			}
		}
	}
	if len(candidates) == 0 {
		return reject(models.RejectPatternNotEligible)
	}

	candidates = unclaimed(in, candidates)
	if len(candidates) == 0 {
		return reject(models.RejectAlreadyClaimed)
	}

	if in.Round.Status != models.RoundActive && in.Round.Status != models.RoundPaused {
		return reject(models.RejectRoundNotActive)
	}

	matchers := make([]bingo.Pattern, 0, len(candidates))
	ids := make([]uint, 0, len(candidates))
	for _, p := range candidates {
		matcher, err := p.Matcher()
		if err != nil {
			v.log.Warnw("skipping unreadable pattern", "pattern_id", p.ID, "error", err)
			continue
		}
		matchers = append(matchers, matcher)
		ids = append(ids, p.ID)
	}
	if i := bingo.FirstMatch(in.Layout, in.Called, matchers, grid.Free); i >= 0 {
		return Verdict{Verified: true, PatternID: &ids[i]}
	}
	return reject(models.RejectNotSatisfied)
}

// unclaimed drops the candidates the winner policy no longer allows.
func unclaimed(in ClaimInput, candidates []models.Pattern) []models.Pattern {
	if in.Round.WinnerPolicy != models.MultipleWinners {
		if len(in.Verified) > 0 {
			return nil
		}
		return candidates
	}

	won := make(map[uint]bool)
	for _, c := range in.Verified {
		if c.ParticipantID == in.ParticipantID && c.PatternID != nil {
			won[*c.PatternID] = true
		}
	}
	var out []models.Pattern
	for _, p := range candidates {
		if !won[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(layout [][]int, issued [][][]int) bool {
	for _, l := range issued {
		if bingo.SameLayout(layout, l) {
			return true
		}
	}
	return false
}

// Process judges a pending claim against the round as it stands now and
// resolves it. It must run inside the round's queue. Under the first-winner
// policy a verified claim also completes the round.
func (v *WinnerVerifier) Process(ctx context.Context, claimID uint) (*models.WinnerClaim, []Event, error) {
	claim, err := v.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}
	if claim.Status != models.ClaimPending {
		return claim, nil, nil
	}

	round, err := v.store.GetRound(ctx, claim.RoundID)
	if err != nil {
		return nil, nil, err
	}
	in, err := v.loadInput(ctx, round, claim)
	if err != nil {
		return nil, nil, err
	}

	verdict := v.Evaluate(in)
	resolved, err := v.store.ResolveClaim(ctx, claim, verdict, len(in.Called))
	if err != nil {
		return nil, nil, err
	}
	if !resolved {
		claim, err = v.store.GetClaim(ctx, claimID)
		return claim, nil, err
	}

	v.log.Infow("claim resolved",
		"claim_id", claim.ID,
		"round_id", round.ID,
		"participant_id", claim.ParticipantID,
		"status", claim.Status,
		"reason", claim.RejectReason,
		"called", len(in.Called),
	)

	if !verdict.Verified {
		return claim, []Event{rejectionEvent(round, claim)}, nil
	}

	events := []Event{roundEvent(&round.Game, round, EventWinnerVerified, StatusSuccess, WinnerVerifiedPayload{
		ClaimID:       claim.ID,
		ParticipantID: claim.ParticipantID,
		Prize:         round.Prize,
		PatternID:     *verdict.PatternID,
		RoundID:       round.ID,
	})}
	if round.WinnerPolicy != models.MultipleWinners {
		done, err := v.machine.Complete(ctx, round, ReasonWinnerVerified)
		if err != nil {
			v.log.Errorw("completing round after winner", "round_id", round.ID, "error", err)
		}
		events = append(events, done...)
	}
	return claim, events, nil
}

// Expire rejects a claim that is still pending with reason timeout.
func (v *WinnerVerifier) Expire(ctx context.Context, claimID uint) (*models.WinnerClaim, []Event, error) {
	claim, err := v.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}
	if claim.Status != models.ClaimPending {
		return claim, nil, nil
	}
	resolved, err := v.store.ResolveClaim(ctx, claim, reject(models.RejectTimeout), 0)
	if err != nil || !resolved {
		return claim, nil, err
	}

	round, err := v.store.GetRound(ctx, claim.RoundID)
	if err != nil {
		return claim, nil, err
	}
	v.log.Infow("claim timed out", "claim_id", claim.ID, "round_id", round.ID, "participant_id", claim.ParticipantID)
	return claim, []Event{rejectionEvent(round, claim)}, nil
}

// loadInput reads the called set at this point of the round's queue.
func (v *WinnerVerifier) loadInput(ctx context.Context, round *models.Round, claim *models.WinnerClaim) (ClaimInput, error) {
	in := ClaimInput{
		Round:         round,
		ParticipantID: claim.ParticipantID,
		PatternID:     claim.PatternID,
	}

	layout, err := claim.Card.Grid()
	if err == nil {
		in.Layout = layout
	}

	if in.Patterns, err = v.store.RoundPatterns(ctx, round.ID); err != nil {
		return in, err
	}
	calls, err := v.store.Calls(ctx, round.ID)
	if err != nil {
		return in, err
	}
	in.Called = bingo.NewNumberSet(models.Numbers(calls))

	if in.Verified, err = v.store.VerifiedClaims(ctx, round.ID); err != nil {
		return in, err
	}

	issued, err := v.store.IssuedCards(ctx, round.ID, claim.ParticipantID)
	if err != nil {
		return in, err
	}
	for _, card := range issued {
		l, err := card.Grid()
		if err != nil {
			return in, fmt.Errorf("issued card %d: %w", card.ID, err)
		}
		in.IssuedLayouts = append(in.IssuedLayouts, l)
	}
	return in, nil
}

func rejectionEvent(round *models.Round, claim *models.WinnerClaim) Event {
	ev := roundEvent(&round.Game, round, EventError, StatusError, ErrorPayload{
		Code:    "claim_rejected",
		Message: "claim rejected: " + string(claim.RejectReason),
		Details: map[string]any{"claimId": claim.ID, "reason": claim.RejectReason},
	})
	ev.Entity = "claim"
	ev.Recipient = claim.ParticipantID
	return ev
}
