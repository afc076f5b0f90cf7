package omega

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/internal/convstate"
	"github.com/tpmjs/omega/internal/dyntool"
	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/internal/ratelimit"
	"github.com/tpmjs/omega/internal/registry"
	"github.com/tpmjs/omega/internal/storage"
	"github.com/tpmjs/omega/internal/vault"
	"github.com/tpmjs/omega/pkg/models"
)

// DefaultSystemPrompt is used when neither configuration nor user settings
// provide one.
const DefaultSystemPrompt = "You are Omega, an assistant that can discover and execute tools from the TPMJS registry to help the user. Prefer calling a relevant tool over guessing."

// Config tunes the turn orchestrator.
type Config struct {
	SystemPrompt     string
	Model            string
	MaxTokens        int
	HistoryLimit     int
	MaxToolSteps     int
	SearchLimit      int
	TitleTurnCutoff  int
	MaxMessageLength int
	LockTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.MaxToolSteps <= 0 {
		c.MaxToolSteps = 10
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 10
	}
	if c.TitleTurnCutoff <= 0 {
		c.TitleTurnCutoff = 3
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 10000
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}
}

// PreStreamError is a failure raised before the event stream opens. The
// HTTP layer renders it as a JSON error body with the given status.
type PreStreamError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *PreStreamError) Error() string { return e.Message }

// TurnRequest describes one inbound message.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Message        string
}

// Orchestrator runs conversation turns end to end.
type Orchestrator struct {
	stores   storage.StoreSet
	provider agent.LLMProvider
	registry *registry.Client
	runner   dyntool.Runner
	vault    *vault.Vault
	factory  *dyntool.Factory
	state    convstate.Store
	locks    *convstate.Locks
	limiter  *ratelimit.Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	cfg      Config
}

// New creates a turn orchestrator. limiter may be nil to disable rate
// limiting (tests, single-tenant deployments).
func New(
	stores storage.StoreSet,
	provider agent.LLMProvider,
	reg *registry.Client,
	runner dyntool.Runner,
	vlt *vault.Vault,
	factory *dyntool.Factory,
	state convstate.Store,
	locks *convstate.Locks,
	limiter *ratelimit.Limiter,
	logger *observability.Logger,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		stores:   stores,
		provider: provider,
		registry: reg,
		runner:   runner,
		vault:    vlt,
		factory:  factory,
		state:    state,
		locks:    locks,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run executes one turn. A returned error is always a pre-stream failure
// and means nothing was written to sink; once streaming starts, every
// outcome (including failures) is delivered through sink as a terminal
// run.completed or run.failed event and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context, req *TurnRequest, sink Sink) error {
	if req.UserID == "" {
		return &PreStreamError{Status: http.StatusUnauthorized, Message: "authentication required"}
	}
	if req.Message == "" {
		return &PreStreamError{Status: http.StatusBadRequest, Message: "message is required"}
	}
	if utf8.RuneCountInString(req.Message) > o.cfg.MaxMessageLength {
		return &PreStreamError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("message exceeds maximum length of %d characters", o.cfg.MaxMessageLength),
		}
	}

	// Quota check happens before any state is touched.
	if o.limiter != nil {
		decision := o.limiter.Check(req.UserID)
		if !decision.Allowed {
			if o.metrics != nil {
				o.metrics.RateLimitRejections.Inc()
				o.metrics.TurnCounter.WithLabelValues("rejected").Inc()
			}
			return &PreStreamError{
				Status:     http.StatusTooManyRequests,
				Message:    "rate limit exceeded",
				RetryAfter: decision.RetryAfter,
			}
		}
	}

	if o.provider == nil || !o.provider.Configured() {
		return &PreStreamError{Status: http.StatusInternalServerError, Message: "llm provider is not configured"}
	}

	conv, err := o.stores.Conversations.Get(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &PreStreamError{Status: http.StatusNotFound, Message: "conversation not found"}
		}
		return &PreStreamError{Status: http.StatusInternalServerError, Message: "failed to load conversation"}
	}
	if !conv.HasParticipant(req.UserID) {
		return &PreStreamError{Status: http.StatusForbidden, Message: "access denied"}
	}

	// One writer per conversation. A second concurrent turn waits briefly,
	// then is rejected instead of racing the first.
	release, err := o.locks.Acquire(ctx, conv.ID, o.cfg.LockTimeout)
	if err != nil {
		return &PreStreamError{
			Status:     http.StatusTooManyRequests,
			Message:    "another turn is already running for this conversation",
			RetryAfter: o.cfg.LockTimeout,
		}
	}
	defer release()

	// From here the turn mutates durable state and must run to completion
	// whether or not the client stays connected. A dropped request context
	// would otherwise abort the store writes and leave executionState stuck
	// on running.
	ctx = context.WithoutCancel(ctx)

	settings := o.loadSettings(ctx, req.UserID)
	env := o.loadEnv(ctx, req.UserID)

	if err := o.stores.Conversations.SetExecutionState(ctx, conv.ID, models.ExecutionRunning); err != nil {
		return &PreStreamError{Status: http.StatusInternalServerError, Message: "failed to start turn"}
	}

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.stores.Messages.Append(ctx, userMsg); err != nil {
		o.resetState(ctx, conv.ID)
		return &PreStreamError{Status: http.StatusInternalServerError, Message: "failed to persist message"}
	}
	msgCount, countErr := o.stores.Messages.Count(ctx, conv.ID)
	if countErr != nil {
		msgCount = o.cfg.TitleTurnCutoff + 1
	}

	// Discovery is best-effort from here on; the stream is committed.
	st := o.state.GetOrCreate(conv.ID)
	searchResult := o.registry.SearchRelevantTools(ctx, req.Message, o.cfg.SearchLimit)
	autoDiscovered := o.registerTools(ctx, st, searchResult.Tools, env)
	warnings := computeEnvWarnings(searchResult.Tools, env)

	o.streamTurn(ctx, &turnState{
		req:            req,
		conv:           conv,
		settings:       settings,
		env:            env,
		state:          st,
		userMsg:        userMsg,
		msgCount:       msgCount,
		autoDiscovered: autoDiscovered,
		warnings:       warnings,
	}, sink)
	return nil
}

// turnState bundles everything gathered before streaming starts.
type turnState struct {
	req            *TurnRequest
	conv           *models.Conversation
	settings       *models.UserSettings
	env            map[string]string
	state          *convstate.State
	userMsg        *models.Message
	msgCount       int
	autoDiscovered []string
	warnings       []models.EnvVarWarning
}

func (o *Orchestrator) streamTurn(ctx context.Context, ts *turnState, sink Sink) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveTurns.Inc()
		defer o.metrics.ActiveTurns.Dec()
		defer func() {
			o.metrics.TurnDuration.Observe(time.Since(started).Seconds())
		}()
	}

	acc := NewTurnAccumulator()
	emit := func(ev StepEvent) {
		acc.Apply(ev)
		switch ev.Kind {
		case StepTextDelta:
			_ = sink.Send(EventMessageDelta, DeltaPayload{Delta: ev.Delta})
		case StepToolResult:
			payload := ToolCompletedPayload{
				ToolCallID: ev.ToolResult.ToolCallID,
				ToolName:   ev.ToolResult.ToolName,
				Status:     string(models.RunStatusSuccess),
				Output:     ev.ToolResult.Content,
			}
			if ev.ToolResult.IsError {
				payload.Status = string(models.RunStatusError)
				payload.Output = ""
				payload.Error = ev.ToolResult.Content
			}
			_ = sink.Send(EventToolCompleted, payload)
		}
	}

	// Warnings go out before the first text delta.
	if len(ts.warnings) > 0 {
		_ = sink.Send(EventEnvWarning, EnvWarningPayload{Warnings: ts.warnings})
	}

	static := []agent.Tool{
		newRegistrySearchTool(o.registry, o.cfg.SearchLimit),
		newRegistryExecuteTool(o.runner, ts.env),
	}

	if err := o.runSteps(ctx, ts, static, emit, sink); err != nil {
		o.failTurn(ctx, ts.conv.ID, sink, err)
		return
	}

	assistantID, err := o.persistTurn(ctx, ts, acc)
	if err != nil {
		o.failTurn(ctx, ts.conv.ID, sink, err)
		return
	}
	o.resetState(ctx, ts.conv.ID)

	staticNames := make([]string, len(static))
	for i, t := range static {
		staticNames[i] = t.Name()
	}
	auto := ts.autoDiscovered
	if auto == nil {
		auto = []string{}
	}
	_ = sink.Send(EventRunCompleted, RunCompletedPayload{
		MessageID:          assistantID,
		Usage:              acc.Usage(),
		ToolCallCount:      len(acc.ToolCalls()),
		StaticTools:        staticNames,
		DynamicToolsLoaded: ts.state.Names(),
		AutoDiscovered:     auto,
	})
	if o.metrics != nil {
		o.metrics.TurnCounter.WithLabelValues("completed").Inc()
	}
	o.logger.Info(ctx, "turn completed",
		"conversation_id", ts.conv.ID,
		"tool_calls", len(acc.ToolCalls()),
		"input_tokens", acc.Usage().InputTokens,
		"output_tokens", acc.Usage().OutputTokens,
	)
}

// runSteps drives the model loop: stream a completion, execute requested
// tools, feed results back, repeat until the model stops calling tools or
// the step cap is reached.
func (o *Orchestrator) runSteps(ctx context.Context, ts *turnState, static []agent.Tool, emit func(StepEvent), sink Sink) error {
	history, err := o.loadHistory(ctx, ts)
	if err != nil {
		return err
	}
	messages := append(history, agent.CompletionMessage{Role: "user", Content: ts.req.Message})

	for step := 0; step < o.cfg.MaxToolSteps; step++ {
		// Rebuilt each step so mid-turn discoveries are callable immediately.
		reg := agent.NewToolRegistry()
		for _, t := range static {
			reg.Register(t)
		}
		for _, t := range ts.state.Tools() {
			reg.Register(t)
		}
		system := BuildSystemPrompt(o.cfg.SystemPrompt, ts.settings, static, ts.state.Tools())

		llmStart := time.Now()
		ch, err := o.provider.Complete(ctx, &agent.CompletionRequest{
			Model:     o.cfg.Model,
			System:    system,
			Messages:  messages,
			Tools:     reg.List(),
			MaxTokens: o.cfg.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}

		var stepText strings.Builder
		var stepCalls []models.ToolCall
		for chunk := range ch {
			switch {
			case chunk.Error != nil:
				return fmt.Errorf("model stream failed: %w", chunk.Error)
			case chunk.Text != "":
				stepText.WriteString(chunk.Text)
				emit(StepEvent{Kind: StepTextDelta, Delta: chunk.Text})
			case chunk.ToolCall != nil:
				stepCalls = append(stepCalls, *chunk.ToolCall)
			case chunk.Done:
				emit(StepEvent{Kind: StepUsage, InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens})
				if o.metrics != nil {
					o.metrics.LLMRequestDuration.
						WithLabelValues(o.provider.Name(), o.cfg.Model).
						Observe(time.Since(llmStart).Seconds())
					o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), o.cfg.Model, "prompt").Add(float64(chunk.InputTokens))
					o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), o.cfg.Model, "completion").Add(float64(chunk.OutputTokens))
				}
			}
		}

		if len(stepCalls) == 0 {
			return nil
		}

		var stepResults []models.ToolResult
		for i := range stepCalls {
			result := o.executeCall(ctx, ts, reg, &stepCalls[i], emit, sink)
			stepResults = append(stepResults, result)
		}

		messages = append(messages,
			agent.CompletionMessage{Role: "assistant", Content: stepText.String(), ToolCalls: stepCalls},
			agent.CompletionMessage{Role: "tool", ToolResults: stepResults},
		)
	}

	o.logger.Warn(ctx, "turn hit tool step cap", "conversation_id", ts.conv.ID, "max_steps", o.cfg.MaxToolSteps)
	return nil
}

// executeCall runs one requested tool invocation with its durable ToolRun
// record bracketing the execution. Tool failures are returned to the model
// as error results, never as turn failures.
func (o *Orchestrator) executeCall(ctx context.Context, ts *turnState, reg *agent.ToolRegistry, call *models.ToolCall, emit func(StepEvent), sink Sink) models.ToolResult {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	emit(StepEvent{Kind: StepToolCall, ToolCall: call})

	run := &models.ToolRun{
		ID:             uuid.NewString(),
		ConversationID: ts.conv.ID,
		ToolName:       call.Name,
		Input:          call.Input,
		Status:         models.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	if err := o.stores.ToolRuns.Create(ctx, run); err != nil {
		o.logger.Error(ctx, "failed to record tool run", "tool", call.Name, "error", err)
	}
	_ = sink.Send(EventToolStarted, ToolStartedPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       string(call.Input),
	})

	output, err := reg.Execute(ctx, call.Name, call.Input)
	if err != nil {
		output = &agent.ToolOutput{Content: err.Error(), IsError: true}
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(run.StartedAt).Milliseconds()
	if output.DurationMs > 0 {
		duration = output.DurationMs
	}
	status := models.RunStatusSuccess
	storedOutput := output.Content
	errText := ""
	if output.IsError {
		status = models.RunStatusError
		storedOutput = ""
		errText = output.Content
	}
	if err := o.stores.ToolRuns.Complete(ctx, run.ID, status, storedOutput, errText, completedAt, duration); err != nil {
		o.logger.Error(ctx, "failed to finalize tool run", "tool", call.Name, "error", err)
	}

	result := models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    output.Content,
		IsError:    output.IsError,
	}
	emit(StepEvent{Kind: StepToolResult, ToolResult: &result})

	// A successful explicit search is a second discovery source.
	if call.Name == RegistrySearchToolName && !output.IsError {
		var parsed searchToolOutput
		if err := json.Unmarshal([]byte(output.Content), &parsed); err == nil && len(parsed.Tools) > 0 {
			added := o.registerTools(ctx, ts.state, parsed.Tools, ts.env)
			if len(added) > 0 {
				_ = sink.Send(EventToolsLoaded, ToolsLoadedPayload{Tools: added})
			}
		}
	}
	return result
}

// persistTurn stores the assistant message, the bundled tool results, and
// the usage counters, and derives a title on early turns.
func (o *Orchestrator) persistTurn(ctx context.Context, ts *turnState, acc *TurnAccumulator) (string, error) {
	usage := acc.Usage()
	assistantMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: ts.conv.ID,
		Role:           models.RoleAssistant,
		Content:        acc.Text(),
		ToolCalls:      acc.ToolCalls(),
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.stores.Messages.Append(ctx, assistantMsg); err != nil {
		return "", fmt.Errorf("persist assistant message: %w", err)
	}

	if results := acc.ToolResults(); len(results) > 0 {
		toolMsg := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: ts.conv.ID,
			Role:           models.RoleTool,
			ToolResults:    results,
			CreatedAt:      time.Now().UTC(),
		}
		if err := o.stores.Messages.Append(ctx, toolMsg); err != nil {
			return "", fmt.Errorf("persist tool results: %w", err)
		}
	}

	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		if err := o.stores.Conversations.AddUsage(ctx, ts.conv.ID, usage.InputTokens, usage.OutputTokens); err != nil {
			o.logger.Error(ctx, "failed to record usage", "conversation_id", ts.conv.ID, "error", err)
		}
	}

	if ts.conv.Title == "" && ts.msgCount <= o.cfg.TitleTurnCutoff {
		if title := DeriveTitle(ts.req.Message); title != "" {
			if err := o.stores.Conversations.SetTitle(ctx, ts.conv.ID, title); err != nil {
				o.logger.Warn(ctx, "failed to set title", "conversation_id", ts.conv.ID, "error", err)
			}
		}
	}

	return assistantMsg.ID, nil
}

// loadHistory reconstructs the model context from the transcript, excluding
// the user message this turn just persisted.
func (o *Orchestrator) loadHistory(ctx context.Context, ts *turnState) ([]agent.CompletionMessage, error) {
	recent, err := o.stores.Messages.ListRecent(ctx, ts.conv.ID, o.cfg.HistoryLimit+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	trimmed := recent[:0]
	for _, msg := range recent {
		if msg.ID == ts.userMsg.ID {
			continue
		}
		trimmed = append(trimmed, msg)
	}
	if len(trimmed) > o.cfg.HistoryLimit {
		trimmed = trimmed[len(trimmed)-o.cfg.HistoryLimit:]
	}
	return buildHistory(trimmed), nil
}

// registerTools builds handles for candidates not yet loaded and returns
// the newly registered names. Individual construction failures are logged
// and skipped.
func (o *Orchestrator) registerTools(ctx context.Context, st *convstate.State, candidates []models.ToolMetadata, env map[string]string) []string {
	var added []string
	for _, meta := range candidates {
		name, ok := st.ResolveName(meta.ToolID)
		if !ok {
			continue
		}
		tool, err := o.factory.CreateDynamicTool(name, meta, env)
		if err != nil {
			o.logger.Warn(ctx, "skipping dynamic tool", "tool_id", meta.ToolID, "error", err)
			continue
		}
		st.AddTool(name, meta.ToolID, tool)
		added = append(added, name)
		if o.metrics != nil {
			o.metrics.DynamicToolsLoaded.Inc()
		}
	}
	return added
}

// computeEnvWarnings flags required env vars missing from the caller's
// credential set, deduplicated by variable name (first occurrence wins).
func computeEnvWarnings(candidates []models.ToolMetadata, env map[string]string) []models.EnvVarWarning {
	var warnings []models.EnvVarWarning
	seen := make(map[string]bool)
	for _, meta := range candidates {
		for _, spec := range meta.RequiredEnv {
			if spec.Name == "" || seen[spec.Name] {
				continue
			}
			if _, present := env[spec.Name]; present {
				continue
			}
			seen[spec.Name] = true
			warnings = append(warnings, models.EnvVarWarning{
				ToolID:      meta.ToolID,
				ToolName:    meta.Name,
				PackageName: meta.PackageName,
				VarName:     spec.Name,
				Description: spec.Description,
			})
		}
	}
	return warnings
}

func (o *Orchestrator) loadSettings(ctx context.Context, userID string) *models.UserSettings {
	settings, err := o.stores.Settings.GetSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Warn(ctx, "failed to load user settings", "user_id", userID, "error", err)
		}
		return nil
	}
	return settings
}

func (o *Orchestrator) loadEnv(ctx context.Context, userID string) map[string]string {
	if o.vault == nil {
		return map[string]string{}
	}
	result := o.vault.GetUserEnvVars(ctx, userID)
	return result.Env
}

// failTurn is the single catch point for stream-phase failures: reset the
// conversation to idle, tell the client, and swallow the error.
func (o *Orchestrator) failTurn(ctx context.Context, conversationID string, sink Sink, err error) {
	o.logger.Error(ctx, "turn failed", "conversation_id", conversationID, "error", err)
	o.resetState(ctx, conversationID)
	_ = sink.Send(EventRunFailed, RunFailedPayload{Error: err.Error()})
	if o.metrics != nil {
		o.metrics.TurnCounter.WithLabelValues("failed").Inc()
	}
}

func (o *Orchestrator) resetState(ctx context.Context, conversationID string) {
	if err := o.stores.Conversations.SetExecutionState(ctx, conversationID, models.ExecutionIdle); err != nil {
		o.logger.Error(ctx, "failed to reset execution state", "conversation_id", conversationID, "error", err)
	}
}
