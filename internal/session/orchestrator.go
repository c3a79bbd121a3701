// Package session runs the per-session request state machine.
//
// A request moves INIT → THINKING → GENERATING → (TOOL_CALLING → GENERATING)*
// and ends in DONE or FAILED. Exactly one request may advance a session at a
// time, enforced by a lock in the coordination store; finished requests are
// recorded so a retry with the same request id replays the stored response
// without calling the model again. Progress is checkpointed while the model
// streams so a request interrupted mid-turn can be resumed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/soyeahso/turnstile/internal/compressor"
	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/hooks"
	"github.com/soyeahso/turnstile/internal/ledger"
	"github.com/soyeahso/turnstile/internal/llm"
	"github.com/soyeahso/turnstile/internal/logging"
	"github.com/soyeahso/turnstile/internal/tools"
	"github.com/soyeahso/turnstile/internal/validator"
)

// ErrSessionNotFound is returned by Snapshot for a session with no state.
var ErrSessionNotFound = errors.New("session not found")

// Gate validates requests before any state is touched.
type Gate interface {
	ValidateStructure(req domain.AdvanceRequest) (*validator.Cleaned, error)
	CheckQuota(ctx context.Context, c *validator.Cleaned) (domain.QuotaVerdict, error)
}

// History stores conversation turns and returns a bounded view of them.
type History interface {
	Append(ctx context.Context, sessionID string, entries ...domain.HistoryEntry) error
	PrunedHistory(ctx context.Context, sessionID, userID string, forceSummary bool) (*compressor.Pruned, error)
}

// UsageRecorder accounts for the tokens a request consumed.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, in ledger.UsageInput) domain.UsageRecord
}

// Stream event types delivered to a StreamFunc.
const (
	EventDelta      = "delta"
	EventState      = "state"
	EventToolStart  = "tool_start"
	EventToolResult = "tool_result"
)

// Event is progress reported while a request advances.
type Event struct {
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"`
	State   domain.State `json:"state,omitempty"`
	Tool    string       `json:"tool,omitempty"`
	IsError bool         `json:"is_error,omitempty"`
}

// StreamFunc receives progress events. It is called from the goroutine
// running Advance.
type StreamFunc func(Event)

// Result is the outcome of a successful Advance.
type Result struct {
	// Body is the exact response bytes. A replay returns the bytes stored
	// when the request first finished.
	Body     []byte
	Replayed bool
	Response *domain.AdvanceResult
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     coord.Store
	Keys      coord.Keyspace
	Validator Gate
	History   History
	Ledger    UsageRecorder
	Client    llm.Client
	Tools     *tools.Registry
	Hooks     *hooks.Manager
}

// Orchestrator advances sessions one request at a time.
type Orchestrator struct {
	cfg       config.SessionConfig
	store     coord.Store
	keys      coord.Keyspace
	validator Gate
	history   History
	ledger    UsageRecorder
	client    llm.Client
	tools     *tools.Registry
	hooks     *hooks.Manager
	log       *logging.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock stamped on state and history.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A nil Tools registry means no tools.
func New(cfg config.SessionConfig, deps Deps, log *logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		keys:      deps.Keys,
		validator: deps.Validator,
		history:   deps.History,
		ledger:    deps.Ledger,
		client:    deps.Client,
		tools:     deps.Tools,
		hooks:     deps.Hooks,
		log:       log.Sub("session"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turn is the working set of one Advance call.
type turn struct {
	req      *validator.Cleaned
	st       *domain.SessionState
	emit     StreamFunc
	start    time.Time
	resumed  bool
	usage    llm.Usage
	model    string
	executed []domain.ToolCallState
	recorded bool
	log      *logging.Logger
}

// Advance runs one request against its session. emit may be nil.
func (o *Orchestrator) Advance(ctx context.Context, req domain.AdvanceRequest, emit StreamFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	c, err := o.validator.ValidateStructure(req)
	if err != nil {
		return nil, err
	}
	sid, rid := c.SessionID, c.RequestID

	if res, ok, err := o.replay(ctx, sid, rid); err != nil || ok {
		return res, err
	}

	if _, err := o.validator.CheckQuota(ctx, c); err != nil {
		return nil, err
	}

	ok, err := o.acquire(ctx, sid, rid)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if !ok {
		holder := o.holder(ctx, sid)
		o.log.Info().Str("session", sid).Str("request", rid).Str("holder", holder).Msg("session busy")
		return nil, domain.Conflict(sid, holder)
	}

	// A concurrent attempt with the same request id may have finished
	// between the first peek and the lock.
	if res, ok, err := o.replay(ctx, sid, rid); err != nil || ok {
		o.release(context.WithoutCancel(ctx), sid, rid)
		return res, err
	}

	st, err := o.loadState(ctx, sid)
	if err != nil {
		o.release(context.WithoutCancel(ctx), sid, rid)
		return nil, domain.Internal(err)
	}

	t := &turn{
		req:   c,
		st:    st,
		emit:  emit,
		start: o.now(),
		log:   o.log.With("session", sid, "request", rid),
	}
	return o.run(ctx, t)
}

func (o *Orchestrator) replay(ctx context.Context, sessionID, requestID string) (*Result, bool, error) {
	body, ok, err := o.peekIdempotent(ctx, sessionID, requestID)
	if err != nil {
		return nil, false, domain.Internal(err)
	}
	if !ok {
		return nil, false, nil
	}
	o.log.Info().Str("session", sessionID).Str("request", requestID).Msg("replaying finished request")
	res := &Result{Body: body, Replayed: true}
	var decoded domain.AdvanceResult
	if err := json.Unmarshal(body, &decoded); err == nil {
		res.Response = &decoded
	}
	return res, true, nil
}

// run executes the turn, converting panics and errors into a FAILED state.
func (o *Orchestrator) run(ctx context.Context, t *turn) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("recovered panic while advancing session")
			res, err = nil, domain.Internal(fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			res, err = nil, o.fail(ctx, t, err)
		}
	}()
	return o.execute(ctx, t)
}

func (o *Orchestrator) execute(ctx context.Context, t *turn) (*Result, error) {
	st, c := t.st, t.req

	t.resumed = st.Resumable(c.RequestID, c.Message)
	// A retry of the same request already has its input in history.
	sameTurn := st.State != domain.StateInit &&
		st.RequestID == c.RequestID &&
		st.LastProcessedMessage == c.Message

	var prefix, pendingText string
	var pending []domain.ToolCallState
	if t.resumed {
		if len(st.ToolCallsInProgress) > 0 {
			pending = st.ToolCallsInProgress
			pendingText = st.AccumulatedResponse
		} else {
			prefix = strings.TrimRight(st.AccumulatedResponse, " \t\r\n")
		}
		t.log.Info().
			Str("from", string(st.State)).
			Int("prefixLen", len(prefix)).
			Int("pendingTools", len(pending)).
			Msg("resuming interrupted request")
	} else {
		st.AccumulatedResponse = ""
		st.ToolCallsInProgress = nil
	}
	st.RequestID = c.RequestID
	st.UserID = c.UserID
	st.LastProcessedMessage = c.Message

	if err := o.transition(ctx, t, domain.StateThinking, ""); err != nil {
		return nil, err
	}

	if !sameTurn {
		if err := o.appendInput(ctx, t); err != nil {
			return nil, err
		}
	}

	pruned, err := o.history.PrunedHistory(ctx, c.SessionID, c.UserID, c.ForceSummary)
	if err != nil {
		return nil, domain.Internal(fmt.Errorf("load history: %w", err))
	}

	var defs []llm.ToolDefinition // nil registry: no tools
	if o.tools != nil {
		defs = o.tools.Definitions()
	}
	creq := llm.CompletionRequest{
		Model: o.cfg.Model,
		System: BuildSystemPrompt(PromptConfig{
			Now:         t.start,
			SessionID:   c.SessionID,
			UserID:      c.UserID,
			Tools:       defs,
			Summary:     pruned.Summary,
			ExtraPrompt: o.cfg.SystemPrompt,
		}),
		Tools:       defs,
		MaxTokens:   o.cfg.MaxOutputTokens,
		Temperature: o.cfg.Temperature,
	}
	if c.MaxOutputTokens != nil {
		creq.MaxTokens = *c.MaxOutputTokens
	}
	if c.Temperature != nil {
		creq.Temperature = c.Temperature
	}
	base := historyMessages(pruned.Entries)

	t.log.Info().
		Str("user", c.UserID).
		Int("historyLen", pruned.Total).
		Int("contextLen", len(pruned.Entries)).
		Bool("summary", pruned.Summary != nil).
		Bool("resumed", t.resumed).
		Msg("processing request")

	var scratch []llm.Message
	rounds := 0
	if len(pending) > 0 {
		msgs, err := o.runTools(ctx, t, pendingText, pending)
		if err != nil {
			return nil, err
		}
		scratch = append(scratch, llm.Message{Role: llm.RoleAssistant, Content: pendingText, ToolCalls: toLLMCalls(pending)})
		scratch = append(scratch, msgs...)
		rounds++
	}

	var content, details string
	for {
		creq.Messages = append(append([]llm.Message(nil), base...), scratch...)
		resp, text, err := o.generate(ctx, t, creq, prefix)
		if err != nil {
			return nil, err
		}
		prefix = ""

		if len(resp.ToolCalls) == 0 {
			content = text
			break
		}
		if rounds >= o.cfg.MaxToolIterations {
			t.log.Warn().Int("rounds", rounds).Msg("tool iteration limit reached")
			content = text
			details = "tool iteration limit reached"
			break
		}

		calls := toCallStates(resp.ToolCalls)
		t.log.Info().Int("toolCalls", len(calls)).Msg("executing tool calls")
		msgs, err := o.runTools(ctx, t, text, calls)
		if err != nil {
			return nil, err
		}
		scratch = append(scratch, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: resp.ToolCalls})
		scratch = append(scratch, msgs...)
		rounds++
	}

	return o.finish(ctx, t, tidyResponse(content), details)
}

// appendInput records client tool results and the user message.
func (o *Orchestrator) appendInput(ctx context.Context, t *turn) error {
	now := o.now().UTC()
	entries := make([]domain.HistoryEntry, 0, len(t.req.ToolResults)+1)
	for _, r := range t.req.ToolResults {
		entries = append(entries, domain.HistoryEntry{
			Role:      domain.RoleTool,
			Content:   toolEntry(r.Name, r.Output, r.IsError),
			Timestamp: now,
		})
	}
	if t.req.Message != "" {
		entries = append(entries, domain.HistoryEntry{Role: domain.RoleUser, Content: t.req.Message, Timestamp: now})
	}
	if err := o.history.Append(ctx, t.req.SessionID, entries...); err != nil {
		return domain.Internal(fmt.Errorf("append input: %w", err))
	}
	return nil
}

// generate streams one model call, forwarding deltas and checkpointing the
// accumulated text. prefix is text already produced by an interrupted
// attempt; the model is asked to continue it.
func (o *Orchestrator) generate(ctx context.Context, t *turn, creq llm.CompletionRequest, prefix string) (*llm.CompletionResponse, string, error) {
	st := t.st
	st.AccumulatedResponse = prefix
	if err := o.transition(ctx, t, domain.StateGenerating, ""); err != nil {
		return nil, "", err
	}
	if prefix != "" {
		creq.Messages = append(creq.Messages, llm.Message{Role: llm.RoleAssistant, Content: prefix})
	}
	creq.Stream = true

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := o.client.Stream(sctx, creq)
	if err != nil {
		return nil, "", domain.ModelUnavailable(err)
	}
	defer func() {
		for range events {
		}
	}()

	var b strings.Builder
	b.WriteString(prefix)
	streamed, since := 0, 0
	var final *llm.CompletionResponse
	for ev := range events {
		switch ev.Type {
		case llm.EventDelta:
			if ev.Content == "" {
				continue
			}
			b.WriteString(ev.Content)
			streamed += len(ev.Content)
			since += len(ev.Content)
			t.emit(Event{Type: EventDelta, Content: ev.Content})
			if o.cfg.CheckpointBytes > 0 && since >= o.cfg.CheckpointBytes {
				since = 0
				st.AccumulatedResponse = b.String()
				if err := o.checkpoint(ctx, st); err != nil {
					cancel()
					return nil, "", err
				}
			}
		case llm.EventDone:
			final = ev.Response
		case llm.EventError:
			cancel()
			return nil, "", domain.ModelUnavailable(errors.New(ev.Error))
		}
	}
	if final == nil {
		return nil, "", domain.ModelUnavailable(errors.New("stream ended without a final response"))
	}
	if streamed == 0 && final.Content != "" {
		b.WriteString(final.Content)
		t.emit(Event{Type: EventDelta, Content: final.Content})
	}

	t.usage.Add(final.Usage)
	if final.Model != "" {
		t.model = final.Model
	}
	text := b.String()
	st.AccumulatedResponse = text
	if err := o.checkpoint(ctx, st); err != nil {
		return nil, "", err
	}
	return final, text, nil
}

// runTools executes calls, skipping any that already hold a result, and
// returns the tool messages to send back to the model.
func (o *Orchestrator) runTools(ctx context.Context, t *turn, assistantText string, calls []domain.ToolCallState) ([]llm.Message, error) {
	st := t.st
	st.ToolCallsInProgress = calls
	if err := o.transition(ctx, t, domain.StateToolCalling, fmt.Sprintf("%d tool call(s)", len(calls))); err != nil {
		return nil, err
	}

	call := tools.Call{SessionID: t.req.SessionID, UserID: t.req.UserID}
	for i := range st.ToolCallsInProgress {
		tc := &st.ToolCallsInProgress[i]
		if tc.Done {
			t.log.Debug().Str("tool", tc.Name).Str("id", tc.ID).Msg("tool already executed, skipping")
			continue
		}
		t.emit(Event{Type: EventToolStart, Tool: tc.Name})
		t.log.Info().Str("tool", tc.Name).Msg("executing tool")

		out, err := o.execTool(ctx, call, tc.Name, tc.Input)
		if err != nil {
			var unknown *tools.UnknownToolError
			if errors.As(err, &unknown) {
				t.log.Warn().Str("tool", tc.Name).Msg("model requested unknown tool")
			} else {
				t.log.Warn().Err(err).Str("tool", tc.Name).Msg("tool execution failed")
			}
			tc.Error = err.Error()
		} else {
			tc.Output = out
		}
		tc.Done = true
		t.emit(Event{Type: EventToolResult, Tool: tc.Name, Content: toolOutput(*tc), IsError: tc.Error != ""})

		if err := o.checkpoint(ctx, st); err != nil {
			return nil, err
		}
	}

	now := o.now().UTC()
	msgs := make([]llm.Message, 0, len(st.ToolCallsInProgress))
	entries := make([]domain.HistoryEntry, 0, len(st.ToolCallsInProgress)+1)
	if strings.TrimSpace(assistantText) != "" {
		entries = append(entries, domain.HistoryEntry{Role: domain.RoleAssistant, Content: assistantText, Timestamp: now})
	}
	for _, tc := range st.ToolCallsInProgress {
		out, isErr := toolOutput(tc), tc.Error != ""
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: out, IsError: isErr})
		entries = append(entries, domain.HistoryEntry{Role: domain.RoleTool, Content: toolEntry(tc.Name, out, isErr), Timestamp: now})
	}
	if err := o.history.Append(ctx, t.req.SessionID, entries...); err != nil {
		return nil, domain.Internal(fmt.Errorf("append tool results: %w", err))
	}

	t.executed = append(t.executed, st.ToolCallsInProgress...)
	st.ToolCallsInProgress = nil
	return msgs, nil
}

func (o *Orchestrator) execTool(ctx context.Context, call tools.Call, name, input string) (string, error) {
	if o.tools == nil {
		return "", &tools.UnknownToolError{Name: name}
	}
	return o.tools.Execute(ctx, call, name, input)
}

// finish records the outcome of a successful turn and releases the lock.
func (o *Orchestrator) finish(ctx context.Context, t *turn, content, details string) (*Result, error) {
	st, c := t.st, t.req
	o.recordUsage(ctx, t)

	if content != "" {
		entry := domain.HistoryEntry{Role: domain.RoleAssistant, Content: content, Timestamp: o.now().UTC()}
		if err := o.history.Append(ctx, c.SessionID, entry); err != nil {
			return nil, domain.Internal(fmt.Errorf("append response: %w", err))
		}
	}

	out := domain.AdvanceResult{
		SessionID: c.SessionID,
		RequestID: c.RequestID,
		State:     domain.StateDone,
		Content:   content,
		ToolCalls: t.executed,
		Usage: domain.UsageTotals{
			PromptTokens:     int64(t.usage.InputTokens),
			CompletionTokens: int64(t.usage.OutputTokens),
		},
		Model:   t.modelName(o.cfg.Model),
		Resumed: t.resumed,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, domain.Internal(fmt.Errorf("encode result: %w", err))
	}
	if err := o.writeIdempotent(ctx, c.SessionID, c.RequestID, body); err != nil {
		t.log.Error().Err(err).Msg("failed to store idempotency record")
	}

	st.AccumulatedResponse = ""
	st.ToolCallsInProgress = nil
	if err := o.transition(ctx, t, domain.StateDone, details); err != nil {
		if !errors.Is(err, errLockLost) {
			return nil, err
		}
		t.log.Warn().Msg("lock expired before completion was recorded")
	}
	o.release(context.WithoutCancel(ctx), c.SessionID, c.RequestID)

	t.log.Info().
		Str("model", out.Model).
		Int("inputTokens", t.usage.InputTokens).
		Int("outputTokens", t.usage.OutputTokens).
		Int("toolCalls", len(t.executed)).
		Dur("duration", o.now().Sub(t.start)).
		Msg("response generated")

	o.hooks.EmitAsync(ctx, hooks.EventRequestCompleted, map[string]any{
		"session_id":        c.SessionID,
		"request_id":        c.RequestID,
		"user_id":           c.UserID,
		"model":             out.Model,
		"prompt_tokens":     out.Usage.PromptTokens,
		"completion_tokens": out.Usage.CompletionTokens,
		"resumed":           t.resumed,
	})
	return &Result{Body: body, Response: &out}, nil
}

// fail moves the session to FAILED, releases the lock and returns the error
// to surface. A request that no longer holds the lock leaves the state to
// the current holder and reports CONFLICT.
func (o *Orchestrator) fail(ctx context.Context, t *turn, cause error) error {
	ctx = context.WithoutCancel(ctx)
	st, c := t.st, t.req
	o.recordUsage(ctx, t)

	var de *domain.Error
	if !errors.Is(cause, errLockLost) {
		if !errors.As(cause, &de) {
			de = domain.Internal(cause)
		}
		st.State = domain.StateFailed
		st.Details = de.Error()
		if err := o.checkpoint(ctx, st); err != nil {
			if !errors.Is(err, errLockLost) {
				t.log.Error().Err(err).Msg("failed to persist FAILED state")
			}
			cause = fmt.Errorf("%w: %v", err, cause)
		}
	}

	if errors.Is(cause, errLockLost) {
		holder := o.holder(ctx, c.SessionID)
		t.log.Warn().Err(cause).Str("holder", holder).Msg("session lock lost mid-request")
		o.emitFailed(ctx, t, domain.KindConflict, cause)
		return domain.Conflict(c.SessionID, holder)
	}
	o.release(ctx, c.SessionID, c.RequestID)

	t.log.Error().Err(cause).Str("kind", string(de.Kind)).Msg("request failed")
	o.emitFailed(ctx, t, de.Kind, cause)
	return de
}

func (o *Orchestrator) emitFailed(ctx context.Context, t *turn, kind domain.Kind, cause error) {
	o.hooks.EmitAsync(ctx, hooks.EventRequestFailed, map[string]any{
		"session_id": t.req.SessionID,
		"request_id": t.req.RequestID,
		"user_id":    t.req.UserID,
		"kind":       string(kind),
		"error":      cause.Error(),
	})
}

// recordUsage books the tokens spent so far, once per turn.
func (o *Orchestrator) recordUsage(ctx context.Context, t *turn) {
	if t.recorded || o.ledger == nil || t.usage.Total() == 0 {
		return
	}
	t.recorded = true
	o.ledger.RecordUsage(context.WithoutCancel(ctx), ledger.UsageInput{
		UserID:           t.req.UserID,
		SessionID:        t.req.SessionID,
		RequestID:        t.req.RequestID,
		Model:            t.modelName(o.cfg.Model),
		PromptTokens:     int64(t.usage.InputTokens),
		CompletionTokens: int64(t.usage.OutputTokens),
	})
}

// transition checkpoints st in a new state.
func (o *Orchestrator) transition(ctx context.Context, t *turn, to domain.State, details string) error {
	from := t.st.State
	t.st.State = to
	t.st.Details = details
	if err := o.checkpoint(ctx, t.st); err != nil {
		return err
	}
	t.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	t.emit(Event{Type: EventState, State: to})
	o.hooks.EmitAsync(ctx, hooks.EventStateTransition, map[string]any{
		"session_id": t.st.SessionID,
		"request_id": t.st.RequestID,
		"from":       string(from),
		"to":         string(to),
	})
	return nil
}

// Snapshot returns a read-only view of a session.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	key := o.keys.SessionState(sessionID)
	b, err := o.store.Get(ctx, key)
	if errors.Is(err, coord.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var st domain.SessionState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	ttl, err := o.store.TTL(ctx, key)
	if err != nil && !errors.Is(err, coord.ErrNotFound) {
		return nil, fmt.Errorf("state ttl: %w", err)
	}
	return &domain.Snapshot{
		SessionID:    sessionID,
		CurrentState: st.State,
		LastUpdate:   st.UpdatedAt,
		Details:      st.Details,
		RequestID:    st.RequestID,
		UserID:       st.UserID,
		TTLRemaining: ttl,
		LockHolder:   o.holder(ctx, sessionID),
	}, nil
}

// Reset deletes a session's state and lock. History and summaries are kept.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if err := o.store.Del(ctx, o.keys.SessionState(sessionID), o.keys.SessionLock(sessionID)); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	o.log.Info().Str("session", sessionID).Msg("session reset")
	return nil
}

func (t *turn) modelName(fallback string) string {
	if t.model != "" {
		return t.model
	}
	return fallback
}

func toCallStates(calls []llm.ToolCall) []domain.ToolCallState {
	out := make([]domain.ToolCallState, len(calls))
	for i, c := range calls {
		out[i] = domain.ToolCallState{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	return out
}

func toLLMCalls(states []domain.ToolCallState) []llm.ToolCall {
	out := make([]llm.ToolCall, len(states))
	for i, s := range states {
		out[i] = llm.ToolCall{ID: s.ID, Name: s.Name, Input: s.Input}
	}
	return out
}

func toolOutput(tc domain.ToolCallState) string {
	if tc.Error != "" {
		return tc.Error
	}
	return tc.Output
}
