package app

import (
	"math"
	"time"
)

// streakCap is the streak length past which the multiplier stops growing.
const streakCap = 6

// scoreAnswer computes the points for a correct answer. The base award decays
// linearly from full points at t=0 to half at the deadline; consecutive
// correct answers add 10% each up to +50%. The result is non-negative and
// never exceeds twice the question's points.
func scoreAnswer(points int, elapsed, limit time.Duration, streak int) int {
	if points <= 0 || limit <= 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limit {
		elapsed = limit
	}
	remaining := limit - elapsed
	speed := 0.5 + 0.5*float64(remaining)/float64(limit)

	bonus := streak - 1
	if bonus < 0 {
		bonus = 0
	}
	if bonus > streakCap-1 {
		bonus = streakCap - 1
	}
	multiplier := 1.0 + 0.1*float64(bonus)

	earned := int(math.Round(float64(points) * speed * multiplier))
	if earned < 0 {
		earned = 0
	}
	if earned > 2*points {
		earned = 2 * points
	}
	return earned
}
