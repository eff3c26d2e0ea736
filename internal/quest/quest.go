// Package quest holds the static quest catalog, difficulty rewards and the
// monster-health stages derived from rep counts.
package quest

import (
	"github.com/claude/repquest/internal/exercise"
)

// TargetReps is the rep goal of every tracked attempt.
const TargetReps = 10

// HalfHealthReps is the rep count at which the monster drops to half health.
const HalfHealthReps = 3

// VideoUploadReward is the experience granted when an analyzed clip reaches
// the target.
const VideoUploadReward = 20

// Difficulty is a quest tier.
type Difficulty string

const (
	Novice  Difficulty = "Novice"
	Adept   Difficulty = "Adept"
	Veteran Difficulty = "Veteran"
	Boss    Difficulty = "Boss"
)

// Reward returns the experience credited for completing a quest of this tier.
func (d Difficulty) Reward() int {
	switch d {
	case Adept:
		return 20
	case Veteran:
		return 30
	case Boss:
		return 50
	default:
		return 10
	}
}

// Quest is one catalog entry.
type Quest struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Monster          string     `json:"monster"`
	MonsterThumbnail string     `json:"monster_thumbnail"`
	Workout          string     `json:"workout"`
	RepGoal          string     `json:"rep_goal"`
	Difficulty       Difficulty `json:"difficulty"`
	Image            string     `json:"image"`
	Blurb            string     `json:"blurb"`
}

// Family returns the evaluator family for the quest's workout.
func (q Quest) Family() exercise.Family {
	return exercise.FamilyFor(q.Workout)
}

var catalog = []Quest{
	{
		ID:               "goblin-jumpjack",
		Title:            "Jumping Jacks Goblin",
		Monster:          "Goblin",
		MonsterThumbnail: "/quests/Goblin_dead.png",
		Workout:          "Jumping Jacks",
		RepGoal:          "3 rounds of 30",
		Difficulty:       Novice,
		Image:            "/quests/Jumpingjack_start_position.JPG",
		Blurb:            "Quick footwork and steady rhythm to push back the goblin swarm.",
	},
	{
		ID:               "goblin-climber",
		Title:            "Mountain Climbers Goblin",
		Monster:          "Goblin",
		MonsterThumbnail: "/quests/Goblin_dead.png",
		Workout:          "Mountain Climbers",
		RepGoal:          "3 rounds of 20 per side",
		Difficulty:       Novice,
		Image:            "/quests/climber_start.JPG",
		Blurb:            "Hold your core strong and climb past the ambushers.",
	},
	{
		ID:               "goblin-crunch",
		Title:            "Crunches Goblin",
		Monster:          "Goblin",
		MonsterThumbnail: "/quests/Goblin_dead.png",
		Workout:          "Crunches",
		RepGoal:          "3 rounds of 25",
		Difficulty:       Novice,
		Image:            "/quests/crunch_start.JPG",
		Blurb:            "Power your core to collapse the goblin tunnel.",
	},
	{
		ID:               "orc-pushup",
		Title:            "Push-ups Orc",
		Monster:          "Orc",
		MonsterThumbnail: "/quests/orc-thumbnail.svg",
		Workout:          "Push-ups",
		RepGoal:          "4 rounds of 12",
		Difficulty:       Adept,
		Image:            "/quests/quest-placeholder.svg",
		Blurb:            "Press through the orc barricade with steady strength.",
	},
	{
		ID:               "orc-back-extension",
		Title:            "Back Extensions Orc",
		Monster:          "Orc",
		MonsterThumbnail: "/quests/orc-thumbnail.svg",
		Workout:          "Back Extensions",
		RepGoal:          "4 rounds of 15",
		Difficulty:       Adept,
		Image:            "/quests/back_ex_start.JPG",
		Blurb:            "Fortify your back to withstand the orc onslaught.",
	},
	{
		ID:               "orc-jumpjack",
		Title:            "Jumping Jacks Orc",
		Monster:          "Orc",
		MonsterThumbnail: "/quests/orc-thumbnail.svg",
		Workout:          "Jumping Jacks",
		RepGoal:          "4 rounds of 25",
		Difficulty:       Adept,
		Image:            "/quests/Jumpingjack_up_position.JPG",
		Blurb:            "Keep pace as the drums call the orcs forward.",
	},
	{
		ID:               "dragon-squats",
		Title:            "Squats Dragon",
		Monster:          "Dragon",
		MonsterThumbnail: "/quests/dragon-thumbnail.svg",
		Workout:          "Squats",
		RepGoal:          "5 rounds of 12",
		Difficulty:       Boss,
		Image:            "/quests/squat_start.JPG",
		Blurb:            "Stand tall and drive power through your legs to face the dragon.",
	},
}

// All returns a copy of the catalog in display order.
func All() []Quest {
	out := make([]Quest, len(catalog))
	copy(out, catalog)
	return out
}

// Find looks up a quest by id.
func Find(id string) (Quest, bool) {
	for _, q := range catalog {
		if q.ID == id {
			return q, true
		}
	}
	return Quest{}, false
}
