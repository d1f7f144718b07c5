package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/longregen/recite/internal/domain/models"
)

func TestParse_Commands(t *testing.T) {
	parser := NewCommandParser()

	tests := []struct {
		text    string
		context CommandContext
		want    CommandType
	}{
		{"skip", ContextListening, CommandSkip},
		{"pass", ContextQuestion, CommandSkip},
		{"repeat", ContextListening, CommandRepeat},
		{"say that again", ContextListening, CommandRepeat},
		{"give me a hint", ContextListening, CommandHint},
		{"stop", ContextListening, CommandStop},
		{"end session", ContextListening, CommandStop},
		{"undo", ContextFeedback, CommandUndo},
		{"go back", ContextFeedback, CommandUndo},
		{"I don't know", ContextListening, CommandGiveUp},
		{"no idea", ContextListening, CommandGiveUp},
		{"tell me the answer", ContextListening, CommandGiveUp},
		{"how am i doing", ContextListening, CommandStatus},
		{"next", ContextFeedback, CommandNext},
		{"mark as easy", ContextFeedback, CommandMarkEasy},
		{"mark it hard", ContextFeedback, CommandMarkHard},
		{"i actually knew that", ContextFeedback, CommandMarkGood},
		{"read it again", ContextQuestion, CommandReadAgain},
		{"what deck", ContextQuestion, CommandWhatDeck},
		{"i disagree", ContextEvaluation, CommandDisagree},
	}

	for _, tt := range tests {
		got := parser.Parse(tt.text, tt.context, 1.0)
		assert.Equal(t, tt.want, got.Type, "text %q in context %s", tt.text, tt.context)
	}
}

func TestParse_ContextGating(t *testing.T) {
	parser := NewCommandParser()

	// "next" is only a command during feedback; while the question is up
	// it could be part of an answer.
	got := parser.Parse("next", ContextQuestion, 1.0)
	assert.Equal(t, CommandAnswer, got.Type)

	got = parser.Parse("mark as easy", ContextQuestion, 1.0)
	assert.Equal(t, CommandAnswer, got.Type)
}

func TestParse_LongTextIsAlwaysAnswer(t *testing.T) {
	parser := NewCommandParser()

	long := strings.Repeat("the mitochondria is the powerhouse ", 5)
	got := parser.Parse(long+"skip", ContextListening, 0.9)

	assert.Equal(t, CommandAnswer, got.Type)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestParse_EmptyText(t *testing.T) {
	parser := NewCommandParser()

	got := parser.Parse("   ", ContextListening, 1.0)

	assert.Equal(t, CommandUnknown, got.Type)
	assert.True(t, got.NeedsConfirmation)
}

func TestParse_ConfidenceIsMatchShare(t *testing.T) {
	parser := NewCommandParser()

	// Exact match: full confidence.
	got := parser.Parse("skip", ContextListening, 1.0)
	assert.Equal(t, 1.0, got.Confidence)
	assert.False(t, got.NeedsConfirmation)

	// Command embedded in chatter: confidence drops below the threshold.
	got = parser.Parse("um could you maybe skip this one please", ContextListening, 1.0)
	assert.Equal(t, CommandSkip, got.Type)
	assert.Less(t, got.Confidence, models.CommandConfidenceThreshold)
	assert.True(t, got.NeedsConfirmation)
}

func TestParse_ConfidenceCappedBySTT(t *testing.T) {
	parser := NewCommandParser()

	got := parser.Parse("skip", ContextListening, 0.6)
	assert.Equal(t, CommandSkip, got.Type)
	assert.Equal(t, 0.6, got.Confidence)
	assert.True(t, got.NeedsConfirmation)
}

func TestRatingFromCommand(t *testing.T) {
	tests := []struct {
		cmd    CommandType
		rating models.Rating
		ok     bool
	}{
		{CommandMarkAgain, models.RatingAgain, true},
		{CommandMarkHard, models.RatingHard, true},
		{CommandMarkGood, models.RatingGood, true},
		{CommandMarkEasy, models.RatingEasy, true},
		{CommandSkip, 0, false},
	}

	for _, tt := range tests {
		rating, ok := RatingFromCommand(tt.cmd)
		assert.Equal(t, tt.ok, ok, "cmd %s", tt.cmd)
		assert.Equal(t, tt.rating, rating, "cmd %s", tt.cmd)
	}
}
