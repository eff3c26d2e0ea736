// Package progression tracks experience points and ranks.
package progression

import "fmt"

// Rank is a letter grade from E (lowest) to S.
type Rank string

const (
	RankE Rank = "E"
	RankD Rank = "D"
	RankC Rank = "C"
	RankB Rank = "B"
	RankA Rank = "A"
	RankS Rank = "S"
)

// Threshold is the minimum experience for a rank.
type Threshold struct {
	Rank   Rank `json:"rank"`
	MinExp int  `json:"minExp"`
}

// Thresholds lists ranks in ascending order.
var Thresholds = []Threshold{
	{RankE, 0},
	{RankD, 50},
	{RankC, 150},
	{RankB, 350},
	{RankA, 650},
	{RankS, 1000},
}

// DefaultClass is shown in the QR payload when a profile has no class.
const DefaultClass = "Fighter"

// RankFor returns the rank earned by exp.
func RankFor(exp int) Rank {
	current := RankE
	for _, t := range Thresholds {
		if exp >= t.MinExp {
			current = t.Rank
		}
	}
	return current
}

// NextRank returns the next rank above exp and the experience still needed.
// ok is false at the top rank.
func NextRank(exp int) (next Rank, needed int, ok bool) {
	for _, t := range Thresholds {
		if exp < t.MinExp {
			return t.Rank, t.MinExp - exp, true
		}
	}
	return "", 0, false
}

func (r Rank) level() int {
	for i, t := range Thresholds {
		if t.Rank == r {
			return i
		}
	}
	return -1
}

// Above reports whether r is strictly higher than o.
func (r Rank) Above(o Rank) bool {
	return r.level() > o.level()
}

// QRPayload encodes a profile's class and rank for the profile card.
func QRPayload(class string, r Rank) string {
	if class == "" {
		class = DefaultClass
	}
	return fmt.Sprintf("PXH|class=%s|rank=%s", class, r)
}
