// Package story implements story-derived key material: the 23-slot pass
// story template, entropy gating, the memory-hard key derivation, and the
// keystore that seals post-quantum identities under story-derived keys.
package story

// SlotCount is the fixed number of slots in a pass story.
const SlotCount = 23

// Stage is one named stage of the story template.
type Stage struct {
	Name        string
	Description string
	Template    string
	SlotCount   int
}

// Template is the fixed narrative template the 23 slots are organized into.
type Template struct {
	Stages []Stage
}

// DefaultTemplate returns the hero's-journey template used for all stories.
// The per-stage slot counts always sum to SlotCount.
func DefaultTemplate() Template {
	return Template{Stages: []Stage{
		{
			Name:        "The Ordinary World",
			Description: "Where the story begins, and who you were",
			Template:    "I lived in %s as a %s",
			SlotCount:   2,
		},
		{
			Name:        "The Call",
			Description: "What arrived, and what it promised",
			Template:    "Then came %s promising %s",
			SlotCount:   2,
		},
		{
			Name:        "The Refusal",
			Description: "What held you back",
			Template:    "But %s and %s held me back",
			SlotCount:   2,
		},
		{
			Name:        "The Crossing",
			Description: "The threshold, and what lay beyond",
			Template:    "I crossed the %s into %s",
			SlotCount:   2,
		},
		{
			Name:        "The Mentor",
			Description: "Who guided you, and what they showed",
			Template:    "There %s showed me %s",
			SlotCount:   2,
		},
		{
			Name:        "Tests and Allies",
			Description: "Three things gathered along the way",
			Template:    "I gathered %s, %s and %s",
			SlotCount:   3,
		},
		{
			Name:        "The Ordeal",
			Description: "What you carried in, and what you faced",
			Template:    "Carrying %s I faced %s",
			SlotCount:   2,
		},
		{
			Name:        "The Reward",
			Description: "What you won, and what it meant",
			Template:    "I won %s which meant %s",
			SlotCount:   2,
		},
		{
			Name:        "The Road Back",
			Description: "What you brought, and what followed",
			Template:    "I returned with %s while %s followed",
			SlotCount:   2,
		},
		{
			Name:        "The Resurrection",
			Description: "Who you had been, and who you became",
			Template:    "No longer %s I stood as %s",
			SlotCount:   2,
		},
		{
			Name:        "Return with the Elixir",
			Description: "What you gave back, and what remains",
			Template:    "I gave back %s and kept %s",
			SlotCount:   2,
		},
	}}
}

// TotalSlots sums the per-stage slot counts.
func (t Template) TotalSlots() int {
	total := 0
	for _, s := range t.Stages {
		total += s.SlotCount
	}
	return total
}
