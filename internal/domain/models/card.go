package models

// Card queue classes as reported by the flashcard store.
const (
	QueueNew      = 0
	QueueLearning = 1
	QueueReview   = 2
)

// Card is a single flashcard. Immutable for the duration of a session.
type Card struct {
	ID            int64  `json:"id"`
	DeckName      string `json:"deck_name"`
	Front         string `json:"front"`
	Back          string `json:"back"`
	ImageFilename string `json:"image_filename,omitempty"`
	Queue         int    `json:"queue"`
	Due           int    `json:"due"`
}

func (c Card) HasImage() bool  { return c.ImageFilename != "" }
func (c Card) IsNew() bool     { return c.Queue == QueueNew }
func (c Card) IsLearning() bool { return c.Queue == QueueLearning }
func (c Card) IsReview() bool  { return c.Queue == QueueReview }

// DeckStats is the per-deck card count breakdown.
type DeckStats struct {
	Name       string `json:"name"`
	NewCount   int    `json:"new_count"`
	LearnCount int    `json:"learn_count"`
	DueCount   int    `json:"due_count"`
}

func (d DeckStats) TotalCount() int { return d.NewCount + d.LearnCount + d.DueCount }
func (d DeckStats) HasCards() bool  { return d.TotalCount() > 0 }
