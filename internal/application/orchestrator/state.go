// Package orchestrator drives a voice review session: a single
// goroutine consumes ordered events and walks the card queue through
// presenting, listening, evaluation, socratic follow-up and feedback.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

// Phase is the session state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePresenting Phase = "presenting"
	PhaseListening  Phase = "listening"
	PhaseEvaluating Phase = "evaluating"
	PhaseFeedback   Phase = "feedback"
	PhaseSocratic   Phase = "socratic"
	PhaseEnded      Phase = "ended"
)

// VoiceState is the per-session mutable state. It is owned by the
// orchestrator's event loop goroutine and never shared.
type VoiceState struct {
	SessionID string
	DeckName  string

	CurrentCard  *models.Card
	PreviousCard *models.Card
	CardQueue    []models.Card

	LastTranscript string

	LastEvaluation     *models.EvaluationResult
	PreviousEvaluation *models.EvaluationResult

	SocraticTurnCount int
	SocraticContext   []string

	Phase     Phase
	ShouldEnd bool

	CardsReviewed int
	StartTime     time.Time
	LastActivity  time.Time
	RatingHistory []models.Rating

	HintsUsed     int
	PreviousHints []string

	QuestionHistory []ports.QAExchange
	UserAttempts    []string

	ConsecutiveTimeouts int
	ClarificationCount  int
	CardPresentedAt     time.Time
	LastSpeechAt        time.Time
}

// NewVoiceState seeds state for a fresh session. An empty card list
// produces an already-ended session.
func NewVoiceState(sessionID, deckName string, cards []models.Card) *VoiceState {
	now := time.Now()
	s := &VoiceState{
		SessionID:    sessionID,
		DeckName:     deckName,
		Phase:        PhaseEnded,
		ShouldEnd:    true,
		StartTime:    now,
		LastActivity: now,
	}
	if len(cards) > 0 {
		card := cards[0]
		s.CurrentCard = &card
		s.CardQueue = append([]models.Card(nil), cards[1:]...)
		s.Phase = PhasePresenting
		s.ShouldEnd = false
	}
	return s
}

// Touch records activity for idle-timeout tracking.
func (s *VoiceState) Touch() {
	s.LastActivity = time.Now()
}

// AdvanceToNextCard pops the queue, resets per-card state and returns
// the next card, or nil when the queue is drained. The outgoing card
// and evaluation are kept for undo.
func (s *VoiceState) AdvanceToNextCard() *models.Card {
	s.PreviousCard = s.CurrentCard
	s.PreviousEvaluation = s.LastEvaluation

	if len(s.CardQueue) == 0 {
		s.CurrentCard = nil
		s.ShouldEnd = true
		return nil
	}

	next := s.CardQueue[0]
	s.CurrentCard = &next
	s.CardQueue = s.CardQueue[1:]
	s.CardsReviewed++

	s.HintsUsed = 0
	s.PreviousHints = nil
	s.QuestionHistory = nil
	s.UserAttempts = nil
	s.LastEvaluation = nil
	s.SocraticTurnCount = 0
	s.SocraticContext = nil
	s.ClarificationCount = 0
	return &next
}

// RecordRating appends to the rating history.
func (s *VoiceState) RecordRating(r models.Rating) {
	s.RatingHistory = append(s.RatingHistory, r)
}

// EnterSocratic switches to socratic mode, appending the prompt and
// counting the turn. The count only resets when the card advances.
func (s *VoiceState) EnterSocratic(prompt string) {
	s.Phase = PhaseSocratic
	s.SocraticTurnCount++
	s.SocraticContext = append(s.SocraticContext, "AI: "+prompt)
	s.trimSocraticContext()
}

func (s *VoiceState) trimSocraticContext() {
	if n := len(s.SocraticContext); n > models.MaxSocraticContextEntries {
		s.SocraticContext = s.SocraticContext[n-models.MaxSocraticContextEntries:]
	}
}

// CanUndo reports whether a previous card is available to return to.
func (s *VoiceState) CanUndo() bool {
	return s.PreviousCard != nil
}

// UndoLastRating returns to the previous card, requeueing the current
// one at the head. Only one level of undo is kept.
func (s *VoiceState) UndoLastRating() *models.Card {
	prev := s.PreviousCard
	if prev == nil {
		return nil
	}

	if s.CurrentCard != nil {
		s.CardQueue = append([]models.Card{*s.CurrentCard}, s.CardQueue...)
	}
	s.CurrentCard = prev
	s.PreviousCard = nil

	s.LastEvaluation = s.PreviousEvaluation
	s.PreviousEvaluation = nil

	if len(s.RatingHistory) > 0 {
		s.RatingHistory = s.RatingHistory[:len(s.RatingHistory)-1]
	}
	if s.CardsReviewed > 0 {
		s.CardsReviewed--
	}
	return prev
}

// IncrementHints bumps the per-card hint counter and returns it.
func (s *VoiceState) IncrementHints() int {
	s.HintsUsed++
	return s.HintsUsed
}

// AddHint remembers a delivered hint for LLM context.
func (s *VoiceState) AddHint(hint string) {
	s.PreviousHints = append(s.PreviousHints, hint)
}

// AddQuestionExchange records a user question and answer, keeping the
// last 5 to bound prompt size.
func (s *VoiceState) AddQuestionExchange(question, answer string) {
	s.QuestionHistory = append(s.QuestionHistory, ports.QAExchange{Question: question, Answer: answer})
	if n := len(s.QuestionHistory); n > 5 {
		s.QuestionHistory = s.QuestionHistory[n-5:]
	}
}

// AddUserAttempt tracks a distinct answer attempt, keeping the last 3.
func (s *VoiceState) AddUserAttempt(transcript string) {
	if transcript == "" {
		return
	}
	for _, a := range s.UserAttempts {
		if a == transcript {
			return
		}
	}
	s.UserAttempts = append(s.UserAttempts, transcript)
	if n := len(s.UserAttempts); n > 3 {
		s.UserAttempts = s.UserAttempts[n-3:]
	}
}

// CardsRemaining counts the queue plus the card in hand.
func (s *VoiceState) CardsRemaining() int {
	remaining := len(s.CardQueue)
	if s.CurrentCard != nil {
		remaining++
	}
	return remaining
}

// Stats summarizes the session. The rating history is the source of
// truth for cards reviewed; the counter can lag when the session ends
// on the last card.
func (s *VoiceState) Stats() models.SessionStats {
	ratings := make(map[string]int, 4)
	for _, r := range s.RatingHistory {
		ratings[r.String()]++
	}
	return models.SessionStats{
		CardsReviewed:   len(s.RatingHistory),
		Ratings:         ratings,
		DurationMinutes: int(time.Since(s.StartTime).Minutes()),
	}
}

// CompletionMessage is the spoken session wrap-up, with praise keyed
// to how the ratings skewed.
func (s *VoiceState) CompletionMessage() string {
	var easyGood, hardAgain int
	for _, r := range s.RatingHistory {
		switch r {
		case models.RatingEasy, models.RatingGood:
			easyGood++
		case models.RatingHard, models.RatingAgain:
			hardAgain++
		}
	}

	msg := fmt.Sprintf("Session complete! You reviewed %d cards. ", len(s.RatingHistory))
	switch {
	case easyGood > hardAgain:
		msg += "Great work! You're doing well with this material."
	case hardAgain > 0:
		msg += "Keep practicing! You'll master these soon."
	default:
		msg += "Well done!"
	}
	return msg
}
