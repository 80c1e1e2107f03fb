package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

// ChatParams are the generation parameters sent with every request
type ChatParams struct {
	SystemPrompt string
	Model        string
	Temperature  float32
	TopP         float32
}

// Orchestrator owns one conversation. It turns settled transcripts into chat
// requests, records the turns and drives speech output for replies.
//
// State only changes through entities.Reduce. Observers registered with
// Subscribe see every snapshot in order.
type Orchestrator struct {
	sessionID string
	chat      repositories.ChatCompleter
	speaker   repositories.Speaker
	journal   repositories.TurnJournal
	params    ChatParams
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// dispatchMu serializes transitions with their notifications
	dispatchMu sync.Mutex
	mu         sync.Mutex
	state      entities.State
	observers  map[int]func(entities.State)
	nextID     int

	lastUpdate *entities.TranscriptUpdate

	turns sync.WaitGroup
}

// NewOrchestrator creates an orchestrator in the idle state. journal may be nil.
func NewOrchestrator(
	ctx context.Context,
	sessionID string,
	chat repositories.ChatCompleter,
	speaker repositories.Speaker,
	journal repositories.TurnJournal,
	params ChatParams,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		sessionID: sessionID,
		chat:      chat,
		speaker:   speaker,
		journal:   journal,
		params:    params,
		logger:    logger.With(zap.String("sessionID", sessionID)),
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(entities.State)),
	}
}

// SessionID returns the session this conversation belongs to
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// State returns the current snapshot
func (o *Orchestrator) State() entities.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Subscribe registers fn for every state change. fn must not call back into
// the orchestrator synchronously.
func (o *Orchestrator) Subscribe(fn func(entities.State)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

// Attach subscribes the orchestrator to a transcript source
func (o *Orchestrator) Attach(source repositories.TranscriptSource) (detach func()) {
	return source.Subscribe(func(u entities.TranscriptUpdate) {
		o.OnTranscriptSettled(u.Transcript, u.Listening)
	})
}

// OnTranscriptSettled reacts to a change of the transcript or the listening
// flag. A turn starts only for a non-empty transcript once listening has
// stopped. Repeated delivery of an unchanged pair is ignored. The turn runs in
// the background; the return value reports whether one was started.
func (o *Orchestrator) OnTranscriptSettled(transcript string, listening bool) bool {
	update := entities.TranscriptUpdate{Transcript: transcript, Listening: listening}

	o.mu.Lock()
	if o.lastUpdate != nil && *o.lastUpdate == update {
		o.mu.Unlock()
		return false
	}
	o.lastUpdate = &update
	o.mu.Unlock()

	if transcript == "" || listening {
		return false
	}

	o.turns.Add(1)
	go func() {
		defer o.turns.Done()
		o.RunTurn(o.ctx, transcript)
	}()
	return true
}

// RunTurn submits message and speaks the reply when one arrives. ctx bounds
// the chat request only; playback lasts until it finishes, is stopped or the
// orchestrator is closed.
func (o *Orchestrator) RunTurn(ctx context.Context, message string) (string, bool) {
	reply, ok := o.Submit(ctx, message)
	if ok {
		o.SpeakReply(o.ctx, reply)
	}
	return reply, ok
}

// Submit sends message to the chat service. On success the reply is appended
// to the conversation and returned. On failure the error is recorded in the
// state and ok is false. Nothing is retried.
func (o *Orchestrator) Submit(ctx context.Context, message string) (reply string, ok bool) {
	if message == "" {
		o.logger.Warn("Ignoring empty submission")
		return "", false
	}

	seq := o.dispatch(entities.SubmitStarted{Message: message})
	defer o.dispatch(entities.SubmitSettled{})
	o.record(ctx, seq, entities.UserTurn(message))

	o.logger.Info("Submitting message", zap.Int("length", len(message)))

	reply, err := o.chat.Complete(ctx, repositories.ChatRequest{
		SystemPrompt: o.params.SystemPrompt,
		Message:      message,
		Model:        o.params.Model,
		Temperature:  o.params.Temperature,
		TopP:         o.params.TopP,
	})
	if err == nil && reply == "" {
		err = domain.ErrEmptyResponse
	}
	if err != nil {
		o.logger.Error("Chat request failed", zap.Error(err))
		o.dispatch(entities.SubmitFailed{Message: domain.ErrorMessage(err)})
		return "", false
	}

	seq = o.dispatch(entities.ReplyReceived{Reply: reply})
	o.record(ctx, seq, entities.AssistantTurn(reply))

	o.logger.Info("Reply received", zap.Int("length", len(reply)))
	return reply, true
}

// SpeakReply hands text to the speaker. Speaking ends when the speaker reports
// completion or fails to start.
func (o *Orchestrator) SpeakReply(ctx context.Context, text string) {
	o.dispatch(entities.SpeakingStarted{})

	err := o.speaker.Speak(ctx, text, func() {
		o.dispatch(entities.SpeakingStopped{})
	})
	if err != nil {
		o.logger.Error("Failed to start speech", zap.Error(err))
		o.dispatch(entities.SpeakingStopped{})
	}
}

// StopSpeaking cancels playback. Calling it while nothing is playing leaves
// the state unchanged.
func (o *Orchestrator) StopSpeaking() {
	o.speaker.Cancel()
	o.dispatch(entities.SpeakingStopped{})
}

// Wait blocks until every turn started by OnTranscriptSettled has finished
func (o *Orchestrator) Wait() {
	o.turns.Wait()
}

// Close cancels background turns and any playback
func (o *Orchestrator) Close() {
	o.cancel()
	o.speaker.Cancel()
}

// dispatch applies a and notifies observers when the state changed. It returns
// the index of the last conversation turn.
func (o *Orchestrator) dispatch(a entities.Action) int {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	o.mu.Lock()
	prev := o.state
	o.state = entities.Reduce(prev, a)
	next := o.state
	observers := make([]func(entities.State), 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.mu.Unlock()

	if !next.Equal(prev) {
		for _, fn := range observers {
			fn(next.Clone())
		}
	}
	return len(next.Conversation) - 1
}

func (o *Orchestrator) record(ctx context.Context, seq int, turn entities.ConversationTurn) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Append(ctx, o.sessionID, seq, turn); err != nil {
		o.logger.Warn("Failed to archive turn",
			zap.Int("seq", seq),
			zap.String("role", string(turn.Role)),
			zap.Error(err))
	}
}
