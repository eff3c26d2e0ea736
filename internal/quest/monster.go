package quest

// Stage is the monster's health as derived from the rep count.
type Stage string

const (
	StageFull Stage = "full"
	StageHalf Stage = "half"
	StageDead Stage = "dead"
)

// StageFor derives the monster stage. It is always recomputed from reps and
// never stored.
func StageFor(reps, target int) Stage {
	switch {
	case reps >= target:
		return StageDead
	case reps >= HalfHealthReps:
		return StageHalf
	default:
		return StageFull
	}
}

// Media is an asset shown for a monster stage.
type Media struct {
	Type string `json:"type"` // "video" or "image"
	Src  string `json:"src"`
}

var monsterMedia = map[string]map[Stage]Media{
	"Goblin": {
		StageFull: {Type: "video", Src: "/quests/Goblin_fullHealth.mp4"},
		StageHalf: {Type: "video", Src: "/quests/Goblin_halfHealth.mp4"},
		StageDead: {Type: "image", Src: "/quests/Goblin_dead.png"},
	},
	"Orc": {
		StageFull: {Type: "image", Src: "/quests/orc-full.svg"},
		StageHalf: {Type: "image", Src: "/quests/orc-half.svg"},
		StageDead: {Type: "image", Src: "/quests/orc-dead.svg"},
	},
	"Dragon": {
		StageFull: {Type: "image", Src: "/quests/dragon-full.svg"},
		StageHalf: {Type: "image", Src: "/quests/dragon-half.svg"},
		StageDead: {Type: "image", Src: "/quests/dragon-dead.svg"},
	},
}

// MediaFor returns the asset for a monster at a stage.
func MediaFor(monster string, s Stage) (Media, bool) {
	set, ok := monsterMedia[monster]
	if !ok {
		return Media{}, false
	}
	m, ok := set[s]
	return m, ok
}

// StageMedia returns all three stage assets for a monster.
func StageMedia(monster string) map[Stage]Media {
	out := make(map[Stage]Media, 3)
	for s, m := range monsterMedia[monster] {
		out[s] = m
	}
	return out
}
