package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/longregen/recite/internal/application/services"
	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/metrics"
	"github.com/longregen/recite/internal/ports"
)

const (
	// PTTSettleWindow is how long to wait after button release for the
	// final STT transcript to land.
	PTTSettleWindow = 500 * time.Millisecond

	// answerLatencyBudgetMs is the end-to-end answer-to-feedback budget;
	// crossing redFlagLatencyMs logs a warning.
	answerLatencyBudgetMs = 1000
	redFlagLatencyMs      = 1200

	eventQueueSize = 64
)

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

var questionStarters = []string{
	"what ", "how ", "why ", "can you", "could you",
	"when ", "where ", "who ", "which ",
}

var questionKeywords = []string{
	"explain", "tell me", "give me an example", "more detail", "elaborate",
}

// Speaker delivers synthesized speech to the learner. Implementations
// publish speaking-state transitions around playback and must stop
// quickly on Interrupt for barge-in.
type Speaker interface {
	Say(ctx context.Context, text string) error
	Interrupt()
	SetAudioInputEnabled(enabled bool)
	// ClearUserTurn drops buffered audio that should not be evaluated.
	ClearUserTurn()
}

// Orchestrator runs one voice session. All state is owned by the
// single goroutine in Run; collaborators feed it through Submit.
type Orchestrator struct {
	evaluator *services.EvaluationService
	hints     *services.HintService
	parser    *services.CommandParser
	bargeIn   *services.BargeInHandler
	turns     *services.TurnDetector
	sessions  *services.SessionManager
	llm       ports.LLMService
	publisher ports.EventPublisher
	speaker   Speaker
	logger    *slog.Logger

	events chan Event
	state  *VoiceState

	pttRecording  bool
	pttBuffer     []string
	textInputMode bool

	silenceTimer *time.Timer

	// speakCancel cancels the in-flight utterance; speakDone closes when
	// it finishes. Both are touched only from the loop goroutine.
	speakCancel context.CancelFunc
	speakDone   chan struct{}

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

func New(
	evaluator *services.EvaluationService,
	hints *services.HintService,
	sessions *services.SessionManager,
	llm ports.LLMService,
	publisher ports.EventPublisher,
	speaker Speaker,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	parser := services.NewCommandParser()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		evaluator: evaluator,
		hints:     hints,
		parser:    parser,
		bargeIn:   services.NewBargeInHandler(parser),
		turns:     services.NewTurnDetector(),
		sessions:  sessions,
		llm:       llm,
		publisher: publisher,
		speaker:   speaker,
		logger:    logger,
		events:    make(chan Event, eventQueueSize),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// Submit queues an event for the loop. Drops with a warning when the
// queue is full rather than blocking the transport.
func (o *Orchestrator) Submit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

// Run consumes events until ctx is cancelled or a shutdown event
// arrives. Pending background work is cancelled before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.stopSilenceTimer()
		o.bgCancel()
		o.bg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			if ev.Type == EventShutdown {
				o.handleShutdown(ctx)
				return nil
			}
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventInitSession:
		o.handleInitSession(ctx, ev.SessionID, ev.DeckName)
	case EventTextInput:
		o.handleTextInput(ctx, ev.Text)
	case EventTranscript:
		o.handleTranscript(ctx, ev)
	case EventQuestion:
		o.textInputMode = true
		o.handleQuestion(ctx, ev.Text)
	case EventHint:
		o.interruptSpeech()
		o.textInputMode = true
		o.respond(ctx, o.handleCommand(ctx, services.CommandHint))
	case EventGiveUp:
		o.interruptSpeech()
		o.textInputMode = true
		o.respond(ctx, o.handleCommand(ctx, services.CommandGiveUp))
	case EventMnemonic:
		o.handleMnemonic(ctx)
	case EventPTTStart:
		o.handlePTTStart(ctx)
	case EventPTTEnd:
		o.handlePTTEnd()
	case eventPTTSettled:
		o.handlePTTSettled(ctx)
	case EventPTTCancel:
		o.handlePTTCancel(ctx)
	case EventSilenceTimeout:
		o.handleSilenceTimeout(ctx)
	case EventBargeIn:
		o.handleBargeIn(ctx, ev)
	case eventTTSDone:
		o.handleTTSDone()
	default:
		o.logger.Warn("unhandled event", "type", ev.Type)
	}
}

func (o *Orchestrator) handleInitSession(ctx context.Context, sessionID, deckName string) {
	cards, err := o.sessions.FetchDeckCards(ctx, deckName)
	if err != nil {
		o.logger.Error("failed to load cards for session", "deck", deckName, "error", err)
		o.respond(ctx, "There was an error loading your flashcards. Please try again.")
		return
	}
	if len(cards) == 0 {
		o.logger.Warn("no reviewable cards", "deck", deckName)
		o.respond(ctx, "No cards are due for review in this deck right now.")
		return
	}

	o.state = NewVoiceState(sessionID, deckName, cards)
	o.sessions.RestoreSession(sessionID, deckName, cards)
	o.logger.Info("session initialized", "session_id", sessionID, "deck", deckName, "cards", len(cards))

	o.presentCard(ctx, o.state.CurrentCard, nil)
}

// presentCard pushes the card to the UI, speaks the question and arms
// the silence timer.
func (o *Orchestrator) presentCard(ctx context.Context, card *models.Card, lastRating *models.Rating) {
	if card == nil {
		return
	}
	if err := o.publisher.PublishCard(ctx, *card, o.progress(), lastRating); err != nil {
		o.logger.Error("failed to publish card", "card_id", card.ID, "error", err)
	}

	o.state.Phase = PhaseListening
	o.state.CardPresentedAt = time.Now()
	o.state.Touch()

	o.respond(ctx, services.SanitizeQuestion(card.Front))
	o.armSilenceTimer()
}

func (o *Orchestrator) handleTextInput(ctx context.Context, text string) {
	o.textInputMode = true

	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "next" || lower == "continue" || lower == "next card" {
		o.interruptSpeech()
		o.respond(ctx, o.handleCommand(ctx, services.CommandNext))
		return
	}

	if strings.TrimSpace(nonWordRe.ReplaceAllString(text, "")) == "" {
		o.logger.Warn("rejecting punctuation-only input", "text", text)
		o.respond(ctx, models.FeedbackNotCaught)
		return
	}

	parsed := o.parser.Parse(text, o.commandContext(), 1.0)
	if parsed.Type != services.CommandAnswer {
		o.interruptSpeech()
		o.respond(ctx, o.handleCommand(ctx, parsed.Type))
		return
	}

	o.evaluateAnswer(ctx, text, 1.0)
}

// handleTranscript routes STT output. During PTT, final transcripts
// accumulate until the settle window; in open-mic mode the turn
// detector decides when the utterance is done.
func (o *Orchestrator) handleTranscript(ctx context.Context, ev Event) {
	if o.pttRecording {
		if ev.IsFinal {
			o.pttBuffer = append(o.pttBuffer, ev.Text)
		}
		return
	}

	if o.state == nil || (o.state.Phase != PhaseListening && o.state.Phase != PhaseSocratic) {
		return
	}

	silenceMs := 0
	if !o.state.LastSpeechAt.IsZero() {
		silenceMs = int(time.Since(o.state.LastSpeechAt).Milliseconds())
	}
	o.state.LastSpeechAt = time.Now()

	detector := o.turns
	if o.state.SocraticTurnCount > 0 || hasFiller(o.state.LastTranscript) {
		detector = detector.WithTimeout(models.SilenceExtendedTimeoutMs)
	}
	result := detector.Analyze(&models.Transcript{
		Text:       ev.Text,
		Confidence: ev.Confidence,
		IsFinal:    ev.IsFinal,
	}, silenceMs, o.state.ClarificationCount)

	switch {
	case result.NeedsClarification:
		o.state.ClarificationCount++
		o.respond(ctx, result.ClarificationReason)
		o.armSilenceTimer()
	case result.ShouldProcess:
		if isQuestion(ev.Text) {
			o.handleQuestion(ctx, ev.Text)
			return
		}
		o.evaluateAnswer(ctx, ev.Text, ev.Confidence)
	}
}

func (o *Orchestrator) handlePTTStart(ctx context.Context) {
	o.pttBuffer = nil
	o.pttRecording = true
	o.stopSilenceTimer()
	o.interruptSpeech()
	o.speaker.ClearUserTurn()
	o.speaker.SetAudioInputEnabled(true)
	if err := o.publisher.PublishPTTState(ctx, true); err != nil {
		o.logger.Error("failed to publish ptt state", "error", err)
	}
}

func (o *Orchestrator) handlePTTEnd() {
	o.speaker.SetAudioInputEnabled(false)
	// Final transcripts can land a few hundred ms after audio stops.
	time.AfterFunc(PTTSettleWindow, func() {
		o.Submit(Event{Type: eventPTTSettled})
	})
}

func (o *Orchestrator) handlePTTSettled(ctx context.Context) {
	o.pttRecording = false
	o.textInputMode = false
	text := strings.TrimSpace(strings.Join(o.pttBuffer, " "))
	o.pttBuffer = nil

	if err := o.publisher.PublishPTTState(ctx, false); err != nil {
		o.logger.Error("failed to publish ptt state", "error", err)
	}

	if text == "" {
		o.armSilenceTimer()
		return
	}

	if isQuestion(text) {
		o.logger.Info("voice input detected as question", "text", truncate(text, 80))
		o.speaker.ClearUserTurn()
		o.handleQuestion(ctx, text)
		return
	}

	o.evaluateAnswer(ctx, text, 1.0)
}

func (o *Orchestrator) handlePTTCancel(ctx context.Context) {
	o.pttRecording = false
	o.pttBuffer = nil
	o.speaker.SetAudioInputEnabled(false)
	o.speaker.ClearUserTurn()
	if err := o.publisher.PublishPTTState(ctx, false); err != nil {
		o.logger.Error("failed to publish ptt state", "error", err)
	}
	o.armSilenceTimer()
}

// evaluateAnswer is the answer path: command check, evaluation,
// socratic branch or rating plus feedback.
func (o *Orchestrator) evaluateAnswer(ctx context.Context, text string, confidence float64) {
	start := time.Now()
	fromText := o.textInputMode
	o.textInputMode = false
	o.stopSilenceTimer()

	if strings.TrimSpace(nonWordRe.ReplaceAllString(text, "")) == "" {
		o.logger.Warn("rejecting punctuation-only answer", "text", text)
		o.respond(ctx, models.FeedbackNotCaught)
		o.armSilenceTimer()
		return
	}

	if o.state == nil || o.state.Phase == PhaseEnded {
		o.logger.Warn("answer received with no active session")
		o.respond(ctx, "I'm still loading the flashcards. Please wait a moment and try again.")
		return
	}

	// Voice transcripts are echoed to the UI; typed input is already
	// visible to the user.
	if !fromText {
		if err := o.publisher.PublishUserTranscript(ctx, text, "voice"); err != nil {
			o.logger.Error("failed to publish user transcript", "error", err)
		}
	}

	parsed := o.parser.Parse(text, o.commandContext(), confidence)
	if parsed.Type != services.CommandAnswer {
		o.respond(ctx, o.handleCommand(ctx, parsed.Type))
		return
	}

	// Capture before any state changes; rating recording must target
	// the card that was answered.
	card := o.state.CurrentCard
	if card == nil {
		o.respond(ctx, o.completeSession(ctx))
		return
	}

	responseTime := time.Since(o.state.LastActivity)
	o.state.LastTranscript = text
	o.state.Touch()
	o.state.AddUserAttempt(text)
	if len(o.state.SocraticContext) > 0 {
		o.state.SocraticContext = append(o.state.SocraticContext, "User: "+text)
		o.state.trimSocraticContext()
	}

	socraticCapped := o.state.SocraticTurnCount >= models.MaxSocraticTurns
	if socraticCapped {
		o.logger.Info("max socratic turns reached, forcing final rating",
			"turn_count", o.state.SocraticTurnCount)
	}

	o.state.Phase = PhaseEvaluating
	result := o.evaluator.Evaluate(ctx, services.EvaluationInput{
		Question:            card.Front,
		ExpectedAnswer:      card.Back,
		Transcript:          text,
		ResponseTimeSeconds: responseTime.Seconds(),
		HintsUsed:           o.state.HintsUsed,
		SocraticContext:     o.state.SocraticContext,
	})
	if socraticCapped {
		result.EnterSocratic = false
		result.SocraticPrompt = ""
	}
	o.state.LastEvaluation = &result
	o.state.ConsecutiveTimeouts = 0

	if result.EnterSocratic && result.SocraticPrompt != "" {
		o.state.EnterSocratic(result.SocraticPrompt)
		o.respond(ctx, result.SocraticPrompt)
		o.logLatency(start, card.ID, result.Rating)
		o.armSilenceTimer()
		return
	}

	// Database write must not delay feedback.
	o.background("record_rating", func(bgCtx context.Context) error {
		return o.sessions.RecordRating(bgCtx, o.state.SessionID, card.ID, result.Rating)
	})
	o.state.RecordRating(result.Rating)

	feedback := result.Feedback
	if result.AnswerSummary != "" {
		feedback = result.Feedback + " " + result.AnswerSummary
	}

	o.state.Phase = PhaseFeedback
	if err := o.publisher.PublishRatingResult(ctx, result.Rating, feedback, card.Back, result.AnswerSummary, o.progress()); err != nil {
		o.logger.Error("failed to publish rating result", "error", err)
	}
	o.respond(ctx, feedback)
	o.logLatency(start, card.ID, result.Rating)
}

func (o *Orchestrator) logLatency(start time.Time, cardID int64, rating models.Rating) {
	metrics.AnswerLatency.Observe(time.Since(start).Seconds())
	elapsed := time.Since(start).Milliseconds()
	o.logger.Info("answer handled",
		"elapsed_ms", elapsed,
		"within_budget", elapsed < answerLatencyBudgetMs,
		"card_id", cardID,
		"rating", int(rating),
	)
	if elapsed > redFlagLatencyMs {
		o.logger.Warn("latency budget exceeded", "elapsed_ms", elapsed, "red_flag_threshold", redFlagLatencyMs)
	}
}

// handleCommand executes a parsed command and returns the spoken
// response.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd services.CommandType) string {
	if o.state == nil || o.state.Phase == PhaseEnded {
		if cmd == services.CommandStop {
			return "Session ended. See you next time!"
		}
		return "No active session."
	}

	switch cmd {
	case services.CommandSkip:
		return o.commandSkip(ctx)

	case services.CommandGiveUp:
		return o.commandGiveUp(ctx)

	case services.CommandRepeat, services.CommandReadAgain:
		if card := o.state.CurrentCard; card != nil {
			o.armSilenceTimer()
			return "The question is: " + services.SanitizeQuestion(card.Front)
		}
		return "No current question."

	case services.CommandHint:
		return o.commandHint(ctx)

	case services.CommandUndo:
		if !o.state.CanUndo() {
			return "Nothing to undo."
		}
		prev := o.state.UndoLastRating()
		o.state.Phase = PhaseListening
		if err := o.publisher.PublishCard(ctx, *prev, o.progress(), nil); err != nil {
			o.logger.Error("failed to publish card", "error", err)
		}
		o.armSilenceTimer()
		return "Let's go back. " + services.SanitizeQuestion(prev.Front)

	case services.CommandStop:
		return o.endSessionNow(ctx)

	case services.CommandStatus:
		return o.statusSummary()

	case services.CommandNext:
		next := o.state.AdvanceToNextCard()
		if next == nil {
			return o.completeSession(ctx)
		}
		o.presentCard(ctx, next, nil)
		return "Next question: " + services.SanitizeQuestion(next.Front)

	case services.CommandWhatDeck:
		return fmt.Sprintf("You're reviewing the %s deck.", o.state.DeckName)

	case services.CommandSlower:
		return "I'll speak slower."

	case services.CommandFaster:
		return "I'll speak faster."

	case services.CommandWhy, services.CommandExplain:
		if card := o.state.CurrentCard; card != nil {
			return o.hints.ExplainAnswer(ctx, card.Front, card.Back)
		}
		return "No current question."

	case services.CommandDisagree:
		return "Okay, tell me your answer again."

	case services.CommandReanswer:
		o.state.Phase = PhaseListening
		o.armSilenceTimer()
		return "Go ahead, I'm listening."

	case services.CommandMarkEasy, services.CommandMarkGood, services.CommandMarkHard, services.CommandMarkAgain:
		return o.commandOverrideRating(cmd)
	}

	return "I didn't catch that command."
}

func (o *Orchestrator) commandSkip(ctx context.Context) string {
	card := o.state.CurrentCard
	if card == nil {
		return o.completeSession(ctx)
	}

	// Skipped cards come back soonest.
	o.background("skip_record_rating", func(bgCtx context.Context) error {
		return o.sessions.RecordRating(bgCtx, o.state.SessionID, card.ID, models.RatingAgain)
	})
	o.state.RecordRating(models.RatingAgain)

	next := o.state.AdvanceToNextCard()
	if next == nil {
		return o.completeSession(ctx)
	}
	again := models.RatingAgain
	o.presentCardSilently(ctx, next, &again)
	return "Okay, next question: " + services.SanitizeQuestion(next.Front)
}

func (o *Orchestrator) commandGiveUp(ctx context.Context) string {
	card := o.state.CurrentCard
	if card == nil {
		return "No current question."
	}

	o.background("give_up_record_rating", func(bgCtx context.Context) error {
		return o.sessions.RecordRating(bgCtx, o.state.SessionID, card.ID, models.RatingAgain)
	})
	o.state.RecordRating(models.RatingAgain)

	// A short "why it matters" beats re-reading the card back.
	explanation := o.hints.ExplainAnswer(ctx, card.Front, card.Back)

	o.state.Phase = PhaseFeedback
	if err := o.publisher.PublishRatingResult(ctx, models.RatingAgain, explanation, card.Back, "", o.progress()); err != nil {
		o.logger.Error("failed to publish rating result", "error", err)
	}
	return explanation
}

func (o *Orchestrator) commandHint(ctx context.Context) string {
	card := o.state.CurrentCard
	if card == nil {
		return "No current question."
	}

	level := o.state.IncrementHints() - 1
	// Taking a hint counts as entering the guided exchange.
	if o.state.SocraticTurnCount == 0 {
		o.state.SocraticTurnCount = 1
	}

	hint := o.hints.GenerateHint(ctx, ports.HintRequest{
		Question:        card.Front,
		ExpectedAnswer:  card.Back,
		HintLevel:       level,
		PreviousHints:   o.state.PreviousHints,
		UserAttempts:    o.state.UserAttempts,
		SocraticContext: o.state.SocraticContext,
		EvaluationGap:   o.evaluationGap(),
	})
	o.state.AddHint(hint)

	if level >= 2 {
		if err := o.publisher.PublishRevealAnswer(ctx, card.Back, o.progress()); err != nil {
			o.logger.Error("failed to publish reveal", "error", err)
		}
	}
	o.armSilenceTimer()
	return hint
}

func (o *Orchestrator) commandOverrideRating(cmd services.CommandType) string {
	rating, ok := services.RatingFromCommand(cmd)
	if !ok || len(o.state.RatingHistory) == 0 {
		return "There's no rating to change."
	}

	card := o.state.CurrentCard
	if o.state.Phase != PhaseFeedback || card == nil {
		return "There's no rating to change."
	}

	o.state.RatingHistory[len(o.state.RatingHistory)-1] = rating
	o.background("override_rating", func(bgCtx context.Context) error {
		return o.sessions.RecordRating(bgCtx, o.state.SessionID, card.ID, rating)
	})
	return fmt.Sprintf("Got it, marked as %s.", rating)
}

// evaluationGap is the reasoning from the last failed evaluation,
// truncated for prompt use.
func (o *Orchestrator) evaluationGap() string {
	ev := o.state.LastEvaluation
	if ev == nil || ev.IsCorrect {
		return ""
	}
	return truncate(ev.Reasoning, 200)
}

func (o *Orchestrator) statusSummary() string {
	counts := map[string]int{}
	for _, r := range o.state.RatingHistory {
		counts[r.String()]++
	}
	return fmt.Sprintf(
		"You've reviewed %d cards with %d remaining. Ratings: %d easy, %d good, %d hard, %d again.",
		len(o.state.RatingHistory), o.state.CardsRemaining(),
		counts["easy"], counts["good"], counts["hard"], counts["again"],
	)
}

func (o *Orchestrator) handleQuestion(ctx context.Context, question string) {
	o.interruptSpeech()

	if o.state == nil || o.state.CurrentCard == nil {
		o.respond(ctx, "I don't have a card loaded to answer questions about.")
		return
	}
	card := o.state.CurrentCard

	answer, err := o.llm.AnswerQuestion(ctx, ports.QuestionRequest{
		Question:        question,
		CardFront:       services.SanitizeAnswer(card.Front),
		CardBack:        services.SanitizeAnswer(card.Back),
		UserAttempts:    lastN(o.state.UserAttempts, 2),
		SocraticContext: lastN(o.state.SocraticContext, 4),
		PreviousHints:   lastN(o.state.PreviousHints, 3),
		History:         lastExchanges(o.state.QuestionHistory, 3),
	})
	if err != nil {
		o.logger.Error("question answering failed", "error", err)
		o.respond(ctx, "I had trouble answering that. Could you try rephrasing?")
		return
	}

	o.state.AddQuestionExchange(question, answer)
	o.respond(ctx, answer)
	o.armSilenceTimer()
}

func (o *Orchestrator) handleMnemonic(ctx context.Context) {
	o.interruptSpeech()

	if o.state == nil || o.state.CurrentCard == nil {
		o.respond(ctx, "I don't have a card loaded to create a mnemonic for.")
		return
	}
	card := o.state.CurrentCard

	mnemonic, err := o.llm.GenerateMnemonic(ctx,
		services.SanitizeAnswer(card.Front), services.SanitizeAnswer(card.Back))
	if err != nil {
		o.logger.Error("mnemonic generation failed", "error", err)
		o.respond(ctx, "I couldn't generate a mnemonic right now. Let me try again.")
		return
	}
	o.respond(ctx, mnemonic)
}

func (o *Orchestrator) handleSilenceTimeout(ctx context.Context) {
	if o.state == nil || o.state.Phase != PhaseListening {
		return
	}
	card := o.state.CurrentCard
	if card == nil {
		return
	}

	o.state.ConsecutiveTimeouts++
	o.logger.Info("silence timeout, treating as don't know",
		"card_id", card.ID,
		"consecutive_timeouts", o.state.ConsecutiveTimeouts,
	)

	if o.state.ConsecutiveTimeouts >= models.MaxConsecutiveTimeouts {
		o.logger.Warn("max consecutive timeouts reached, ending session",
			"consecutive_timeouts", o.state.ConsecutiveTimeouts)
		o.respond(ctx, "It seems you've stepped away. "+o.endSessionAbandoned(ctx))
		return
	}

	result := o.evaluator.Evaluate(ctx, services.EvaluationInput{
		Question:       card.Front,
		ExpectedAnswer: card.Back,
		IsTimeout:      true,
	})
	o.state.LastEvaluation = &result

	o.background("timeout_record_rating", func(bgCtx context.Context) error {
		return o.sessions.RecordRating(bgCtx, o.state.SessionID, card.ID, result.Rating)
	})
	o.state.RecordRating(result.Rating)

	feedback := result.Feedback
	if result.AnswerSummary != "" {
		feedback = result.Feedback + " " + result.AnswerSummary
	}
	o.state.Phase = PhaseFeedback
	if err := o.publisher.PublishRatingResult(ctx, result.Rating, feedback, card.Back, result.AnswerSummary, o.progress()); err != nil {
		o.logger.Error("failed to publish rating result", "error", err)
	}

	// Move on without waiting for the learner. The timeout streak is
	// per-session, not per-card, and survives the advance.
	next := o.state.AdvanceToNextCard()
	if next == nil {
		o.respond(ctx, feedback+" "+o.completeSession(ctx))
		return
	}
	rating := result.Rating
	o.presentCardSilently(ctx, next, &rating)
	o.respond(ctx, feedback+" Next question: "+services.SanitizeQuestion(next.Front))
}

func (o *Orchestrator) handleBargeIn(ctx context.Context, ev Event) {
	result := o.bargeIn.HandleInterruption(ev.SpeechDurationMs, ev.Text, ev.Confidence, o.commandContext())

	if result.ShouldStopTTS {
		o.interruptSpeech()
	}

	switch result.Action {
	case services.BargeInResume:
		// Noise; playback continues.
	case services.BargeInExecuteCommand:
		o.respond(ctx, result.Acknowledgment+" "+o.handleCommand(ctx, result.Command.Type))
	case services.BargeInAcknowledgeWait:
		o.respond(ctx, result.Acknowledgment)
		o.armSilenceTimer()
	case services.BargeInListen:
		if o.state != nil {
			o.state.Phase = PhaseListening
		}
		o.armSilenceTimer()
	}
}

func (o *Orchestrator) handleShutdown(ctx context.Context) {
	if o.state != nil && o.state.Phase != PhaseEnded {
		sessionID := o.state.SessionID
		if _, err := o.sessions.EndSession(ctx, sessionID); err != nil {
			o.logger.Error("failed to end session at shutdown", "session_id", sessionID, "error", err)
		}
		o.state.Phase = PhaseEnded
	}
}

// completeSession wraps up after the last card: end-of-session sync in
// the background, completion event to the UI, spoken summary back.
func (o *Orchestrator) completeSession(ctx context.Context) string {
	o.stopSilenceTimer()
	stats := o.state.Stats()
	sessionID := o.state.SessionID
	o.state.Phase = PhaseEnded

	o.background("end_session", func(bgCtx context.Context) error {
		_, err := o.sessions.EndSession(bgCtx, sessionID)
		return err
	})

	if err := o.publisher.PublishSessionComplete(ctx, stats); err != nil {
		o.logger.Error("failed to publish session complete", "error", err)
	}
	return o.state.CompletionMessage()
}

// endSessionNow is the synchronous stop path: the learner asked to
// finish, so sync before speaking the summary.
func (o *Orchestrator) endSessionNow(ctx context.Context) string {
	return o.finishSession(ctx, o.sessions.EndSession)
}

// endSessionAbandoned closes out after repeated silence timeouts. The
// session ends degraded regardless of sync outcome.
func (o *Orchestrator) endSessionAbandoned(ctx context.Context) string {
	return o.finishSession(ctx, o.sessions.EndSessionAbandoned)
}

func (o *Orchestrator) finishSession(ctx context.Context, end func(context.Context, string) (*services.EndSessionResult, error)) string {
	o.stopSilenceTimer()
	sessionID := o.state.SessionID
	o.state.Phase = PhaseEnded

	result, err := end(ctx, sessionID)
	if err != nil {
		o.logger.Error("failed to end session", "session_id", sessionID, "error", err)
		return "Session ended. See you next time!"
	}
	if err := o.publisher.PublishSessionComplete(ctx, result.Stats); err != nil {
		o.logger.Error("failed to publish session complete", "error", err)
	}
	msg := o.state.CompletionMessage()
	if result.Warning != "" {
		msg += " " + result.Warning
	}
	return msg
}

// presentCardSilently publishes the card without re-reading the
// question; the caller speaks a combined response instead.
func (o *Orchestrator) presentCardSilently(ctx context.Context, card *models.Card, lastRating *models.Rating) {
	if err := o.publisher.PublishCard(ctx, *card, o.progress(), lastRating); err != nil {
		o.logger.Error("failed to publish card", "card_id", card.ID, "error", err)
	}
	o.state.Phase = PhaseListening
	o.state.CardPresentedAt = time.Now()
	o.state.Touch()
	o.armSilenceTimer()
}

// respond publishes the text to the UI panel and speaks it. Text
// appears before TTS starts so the panel never lags the voice.
func (o *Orchestrator) respond(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := o.publisher.PublishAgentMessage(ctx, text); err != nil {
		o.logger.Error("failed to publish agent message", "error", err)
	}
	o.speak(text)
}

// speak delivers TTS off the event loop so long playback never blocks
// event handling (a barge-in must land mid-utterance). Utterances play
// in submission order; a new one cancels whatever is still in flight.
func (o *Orchestrator) speak(text string) {
	o.cancelSpeech()
	speakCtx, cancel := context.WithTimeout(o.bgCtx, ttsTimeout(text))
	o.speakCancel = cancel

	prev := o.speakDone
	done := make(chan struct{})
	o.speakDone = done

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		if err := o.speaker.Say(speakCtx, text); err != nil && speakCtx.Err() == nil {
			o.logger.Warn("speech delivery failed", "error", err, "text", truncate(text, 50))
		}
		o.Submit(Event{Type: eventTTSDone})
	}()
}

// cancelSpeech cancels the in-flight utterance, if any.
func (o *Orchestrator) cancelSpeech() {
	if o.speakCancel != nil {
		o.speakCancel()
		o.speakCancel = nil
	}
}

// interruptSpeech cuts playback short: cancel the pending utterance and
// tell the speaker to drop whatever is already buffered downstream.
func (o *Orchestrator) interruptSpeech() {
	o.cancelSpeech()
	o.speaker.Interrupt()
}

// handleTTSDone restarts the silence countdown once playback ends, so
// speaking time never eats into the learner's answer window.
func (o *Orchestrator) handleTTSDone() {
	if o.state == nil {
		return
	}
	if o.state.Phase == PhaseListening || o.state.Phase == PhaseSocratic {
		o.armSilenceTimer()
	}
}

func (o *Orchestrator) progress() ports.Progress {
	if o.state == nil {
		return ports.Progress{}
	}
	return ports.Progress{
		CardsReviewed:  len(o.state.RatingHistory),
		CardsRemaining: o.state.CardsRemaining(),
	}
}

func (o *Orchestrator) commandContext() services.CommandContext {
	if o.state == nil {
		return services.ContextAny
	}
	switch o.state.Phase {
	case PhasePresenting, PhaseListening:
		return services.ContextQuestion
	case PhaseFeedback:
		return services.ContextFeedback
	case PhaseEvaluating:
		return services.ContextEvaluation
	default:
		return services.ContextListening
	}
}

// armSilenceTimer starts the no-response countdown. Engagement signals
// (socratic exchange, filler words) extend patience.
func (o *Orchestrator) armSilenceTimer() {
	o.stopSilenceTimer()
	if o.state == nil {
		return
	}

	timeoutMs := models.SilenceTimeoutMs
	if o.state.SocraticTurnCount > 0 || hasFiller(o.state.LastTranscript) {
		timeoutMs = models.SilenceExtendedTimeoutMs
	}
	o.silenceTimer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		o.Submit(Event{Type: EventSilenceTimeout})
	})
}

func (o *Orchestrator) stopSilenceTimer() {
	if o.silenceTimer != nil {
		o.silenceTimer.Stop()
		o.silenceTimer = nil
	}
}

// background runs fn on a tracked goroutine that is cancelled when the
// loop stops, so stale sessions cannot produce ghost writes.
func (o *Orchestrator) background(name string, fn func(ctx context.Context) error) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if err := fn(o.bgCtx); err != nil && o.bgCtx.Err() == nil {
			o.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}

func ttsTimeout(text string) time.Duration {
	words := len(strings.Fields(text))
	speaking := float64(words) / 150 * 60
	secs := speaking + 5
	if secs < 15 {
		secs = 15
	}
	if secs > 30 {
		secs = 30
	}
	return time.Duration(secs * float64(time.Second))
}

// isQuestion reports whether voice input is a follow-up question
// rather than an answer attempt.
func isQuestion(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(text, "?") {
		return true
	}
	for _, starter := range questionStarters {
		if strings.HasPrefix(lower, starter) {
			return true
		}
	}
	for _, keyword := range questionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func hasFiller(text string) bool {
	lower := strings.ToLower(text)
	for _, f := range models.FillerWords {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastExchanges(s []ports.QAExchange, n int) []ports.QAExchange {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
