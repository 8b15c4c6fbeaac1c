package models

import "time"

// Call is one number announced in a round. Calls are append-only.
type Call struct {
	ID       uint      `json:"id" gorm:"primaryKey"`
	RoundID  uint      `json:"round_id" gorm:"not null;uniqueIndex:idx_calls_round_sequence;uniqueIndex:idx_calls_round_number"`
	Number   int       `json:"number" gorm:"not null;uniqueIndex:idx_calls_round_number"`
	Sequence int       `json:"sequence" gorm:"not null;uniqueIndex:idx_calls_round_sequence"`
	CalledAt time.Time `json:"called_at" gorm:"not null"`
}

// Numbers extracts the called numbers in sequence order.
func Numbers(calls []Call) []int {
	nums := make([]int, len(calls))
	for i, c := range calls {
		nums[i] = c.Number
	}
	return nums
}
