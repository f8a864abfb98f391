// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage"
)

// State is a step of a chat turn.
type State string

const (
	StateReceived   State = "received"
	StateRetrieving State = "retrieving"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// RetrievalPolicy decides what happens once retrieval retries run out.
type RetrievalPolicy string

const (
	// PolicyDegrade answers from history alone.
	PolicyDegrade RetrievalPolicy = "degrade"
	// PolicyFail ends the turn in StateFailed with core.ErrTransientBackend.
	PolicyFail RetrievalPolicy = "fail"
)

// ParseRetrievalPolicy converts a configuration value into a RetrievalPolicy.
// The empty string selects PolicyDegrade.
func ParseRetrievalPolicy(s string) (RetrievalPolicy, error) {
	switch p := RetrievalPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyDegrade, nil
	case PolicyDegrade, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Retriever finds chunks related to a query.
// *search.Searcher implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]*core.Chunk, error)
}

// Settings tune an Orchestrator beyond its collaborators.
type Settings struct {
	Policy     RetrievalPolicy
	Retry      retry.Policy
	Generation GenerationSettings
	// GenerationTimeout bounds the LLM call; zero means only the caller's context applies.
	GenerationTimeout time.Duration
	// PersistTimeout bounds the writes after generation. They run detached from
	// the caller's context so an answer is not lost to a late disconnect.
	PersistTimeout time.Duration
	TitleTimeout   time.Duration
}

// DefaultSettings returns the stock orchestrator settings.
func DefaultSettings() Settings {
	rp := retry.DefaultPolicy()
	rp.AttemptTimeout = 10 * time.Second
	return Settings{
		Policy:            PolicyDegrade,
		Retry:             rp,
		Generation:        DefaultGenerationSettings(),
		GenerationTimeout: 2 * time.Minute,
		PersistTimeout:    10 * time.Second,
		TitleTimeout:      30 * time.Second,
	}
}

// TurnResult describes how a turn went.
type TurnResult struct {
	State State   `json:"state"`
	Trace []State `json:"trace"`
	// UserMessage and AssistantMessage are the stored messages, or unsaved
	// copies when persisting failed.
	UserMessage      *core.Message `json:"user_message,omitempty"`
	AssistantMessage *core.Message `json:"assistant_message,omitempty"`
	Context          *Context      `json:"context,omitempty"`
	// Title is set when this turn named the conversation.
	Title string `json:"title,omitempty"`
	// RetrievalErr is the retrieval error absorbed under PolicyDegrade.
	RetrievalErr error `json:"-"`
	// PersistErr is set when the answer could not be stored.
	PersistErr error `json:"-"`
}

// Persisted reports whether both turn messages were stored.
func (r *TurnResult) Persisted() bool {
	return r.State == StateDone && r.PersistErr == nil
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	conversations storage.ConversationRepository
	retriever     Retriever
	chat          ai.ChatModel
	assembler     Assembler
	settings      Settings
	sequencer     *Sequencer
	limiter       *rate.Limiter
	monitor       TurnMonitor
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithMonitor sets the turn monitor.
func WithMonitor(monitor TurnMonitor) Option {
	return func(o *Orchestrator) error {
		if monitor == nil {
			monitor = noopMonitor{}
		}
		o.monitor = monitor
		return nil
	}
}

// WithAssembler replaces the default Assembler (threshold 0.6, top-k 10, history 5).
func WithAssembler(a Assembler) Option {
	return func(o *Orchestrator) error {
		if err := a.Validate(); err != nil {
			return err
		}
		o.assembler = a
		return nil
	}
}

// WithSettings replaces every setting at once.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) error {
		if _, err := ParseRetrievalPolicy(string(s.Policy)); err != nil {
			return err
		}
		if s.Retry.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		if err := s.Generation.Validate(); err != nil {
			return err
		}
		if s.Policy == "" {
			s.Policy = PolicyDegrade
		}
		o.settings = s
		return nil
	}
}

// WithRetrievalPolicy sets what happens when retrieval keeps failing.
func WithRetrievalPolicy(p RetrievalPolicy) Option {
	return func(o *Orchestrator) error {
		parsed, err := ParseRetrievalPolicy(string(p))
		if err != nil {
			return err
		}
		o.settings.Policy = parsed
		return nil
	}
}

// WithRetry sets the retrieval retry policy.
func WithRetry(p retry.Policy) Option {
	return func(o *Orchestrator) error {
		if p.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		o.settings.Retry = p
		return nil
	}
}

// WithRateLimit caps generation calls per second. A non-positive limit
// removes the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Orchestrator) error {
		if perSecond <= 0 {
			o.limiter = nil
			return nil
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// WithSequencer shares a Sequencer between orchestrators writing the same store.
func WithSequencer(s *Sequencer) Option {
	return func(o *Orchestrator) error {
		if s != nil {
			o.sequencer = s
		}
		return nil
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	conversations storage.ConversationRepository,
	retriever Retriever,
	chat ai.ChatModel,
	opts ...Option,
) (*Orchestrator, error) {
	if conversations == nil {
		return nil, ErrConversationRepositoryRequired
	}
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if chat == nil {
		return nil, ErrChatModelRequired
	}

	o := &Orchestrator{
		conversations: conversations,
		retriever:     retriever,
		chat:          chat,
		assembler:     Assembler{Threshold: 0.6, TopK: 10, HistoryWindow: 5},
		settings:      DefaultSettings(),
		sequencer:     NewSequencer(),
		monitor:       noopMonitor{},
		logger:        slog.Default().With("component", "orchestrator"),
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// turn carries the bookkeeping of one Turn call.
type turn struct {
	o              *Orchestrator
	conversationID core.ID
	result         *TurnResult
	stageStart     time.Time
	logger         *slog.Logger
}

func (t *turn) enter(next State) {
	prev := t.result.State
	now := time.Now()
	t.o.monitor.StageDuration(prev, now.Sub(t.stageStart))
	t.stageStart = now
	t.result.State = next
	t.result.Trace = append(t.result.Trace, next)
	t.o.monitor.Transition(t.conversationID, prev, next)
	t.logger.Debug("turn state changed", "from", prev, "to", next)
}

func (t *turn) fail(err error) (*TurnResult, error) {
	t.logger.Error("turn failed", "stage", t.result.State, "err", err)
	t.enter(StateFailed)
	return t.result, err
}

// Turn answers query within a conversation.
//
// On success the result is in StateDone. A non-nil error means the turn
// ended in StateFailed; the result is still returned and nothing from the
// turn was persisted. Generation failures wrap core.ErrGeneration.
func (o *Orchestrator) Turn(ctx context.Context, conversationID core.ID, query string) (*TurnResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	started := time.Now()
	t := &turn{
		o:              o,
		conversationID: conversationID,
		result:         &TurnResult{State: StateReceived, Trace: []State{StateReceived}},
		stageStart:     started,
		logger:         o.logger.With("conversation", conversationID),
	}
	defer func() {
		o.monitor.TurnFinished(conversationID, t.result.State, time.Since(started))
	}()

	// Received
	if _, err := o.conversations.GetConversation(ctx, conversationID); err != nil {
		return t.fail(backendError(err))
	}
	history, err := o.conversations.GetRecentMessages(ctx, conversationID, o.assembler.HistoryWindow)
	if err != nil {
		return t.fail(backendError(err))
	}

	// Retrieving
	t.enter(StateRetrieving)
	chunks, err := o.retrieve(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return t.fail(ctx.Err())
		}
		if o.settings.Policy == PolicyFail {
			return t.fail(backendError(err))
		}
		t.logger.Warn("retrieval failed, answering without document context", "err", err)
		t.result.RetrievalErr = err
		o.monitor.RetrievalDegraded(conversationID, err)
		chunks = nil
	}

	// Assembling
	t.enter(StateAssembling)
	assembled, err := o.assembler.Assemble(Input{Query: query, Chunks: chunks, History: history})
	if errors.Is(err, core.ErrEmptyContext) {
		t.logger.Debug("no chunks above threshold, using history only", "candidates", len(chunks))
	}
	req, assembled := o.settings.Generation.BuildRequest(assembled)
	t.result.Context = assembled

	// Generating
	t.enter(StateGenerating)
	answer, err := o.generate(ctx, req)
	if err != nil {
		return t.fail(err)
	}
	if err := ctx.Err(); err != nil {
		// The caller left before persistence started; store nothing.
		return t.fail(err)
	}

	// Persisting
	t.enter(StatePersisting)
	now := time.Now().UTC()
	user := &core.Message{Role: core.RoleUser, Content: query, Timestamp: now}
	assistant := &core.Message{Role: core.RoleAssistant, Content: answer, Timestamp: now, Sources: assembled.Sources()}
	t.result.UserMessage, t.result.AssistantMessage = user, assistant

	persistCtx := context.WithoutCancel(ctx)
	userCopy, assistantCopy := *user, *assistant
	stored, err := o.persist(persistCtx, conversationID, &userCopy, &assistantCopy)
	if err != nil {
		t.logger.Error("failed to persist turn, returning unsaved answer", "err", err)
		t.result.PersistErr = err
	} else {
		t.result.UserMessage, t.result.AssistantMessage = stored[0], stored[1]
		if stored[0].Sequence == 0 {
			t.result.Title = o.nameConversation(persistCtx, t.logger, conversationID, query, answer)
		}
	}

	t.enter(StateDone)
	return t.result, nil
}

// retrieve asks for twice TopK candidates so threshold filtering still
// leaves enough to fill the context.
func (o *Orchestrator) retrieve(ctx context.Context, query string) ([]*core.Chunk, error) {
	limit := max(o.assembler.TopK*2, o.assembler.TopK)
	if limit == 0 {
		return nil, nil
	}
	var chunks []*core.Chunk
	err := retry.Do(ctx, o.settings.Retry, func(ctx context.Context) error {
		var err error
		chunks, err = o.retriever.Retrieve(ctx, query, limit)
		return err
	})
	return chunks, err
}

func (o *Orchestrator) generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limit: %w", core.ErrGeneration, err)
		}
	}
	if o.settings.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.GenerationTimeout)
		defer cancel()
	}

	answer, err := o.chat.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGeneration, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: %w", core.ErrGeneration, ai.ErrEmptyResponse)
	}
	return answer, nil
}

func (o *Orchestrator) persist(ctx context.Context, conversationID core.ID, msgs ...*core.Message) ([]*core.Message, error) {
	if o.settings.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.PersistTimeout)
		defer cancel()
	}

	var stored []*core.Message
	err := o.sequencer.Do(ctx, conversationID, func() error {
		var err error
		stored, err = o.conversations.AppendMessages(ctx, conversationID, msgs...)
		return err
	})
	return stored, err
}

// nameConversation replaces the placeholder title after the first turn.
// Failures are logged; the turn has already succeeded.
func (o *Orchestrator) nameConversation(ctx context.Context, logger *slog.Logger, conversationID core.ID, question, answer string) string {
	title := o.generateTitle(ctx, question, answer)
	ok, err := o.conversations.SetTitleIfUnset(ctx, conversationID, title)
	if err != nil {
		logger.Warn("failed to store conversation title", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	logger.Info("conversation titled", "title", title)
	return title
}

func backendError(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, core.ErrTransientBackend) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrTransientBackend, err)
}
