package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/router/internal/telemetry"
	"github.com/waddlebot/router/pkg/cache"
	"github.com/waddlebot/router/pkg/command"
	"github.com/waddlebot/router/pkg/entity"
	"github.com/waddlebot/router/pkg/execution"
	"github.com/waddlebot/router/pkg/ratelimit"
	"github.com/waddlebot/router/pkg/reputation"
	"github.com/waddlebot/router/pkg/session"
	"github.com/waddlebot/router/pkg/stringmatch"
)

// The processor depends on small consumer-side interfaces so the pipeline can
// be tested with fakes instead of a database and Redis.

type commandSource interface {
	GetByPrefixName(ctx context.Context, prefix, name string) (command.Command, error)
	GetPermission(ctx context.Context, commandID uuid.UUID, entityID string) (command.Permission, error)
	ListEventCommands(ctx context.Context, entityID, messageType string) ([]command.Command, error)
	CreateExecution(ctx context.Context, p command.CreateExecutionParams) (uuid.UUID, error)
	FinishExecution(ctx context.Context, executionID uuid.UUID, p command.FinishExecutionParams) error
	TouchPermissionUsage(ctx context.Context, commandID uuid.UUID, entityID string) error
	RecordRateLimitBucket(ctx context.Context, commandID uuid.UUID, entityID, userID string) error
}

type entitySource interface {
	Ensure(ctx context.Context, platform, serverID, channelID string) (entity.Entity, error)
}

type membershipSource interface {
	EnsureUserInGlobal(ctx context.Context, userID string) error
	EnsureUsersInGlobalBulk(ctx context.Context, userIDs []string) error
}

type sessionSource interface {
	Create(ctx context.Context, entityID string) (session.Session, error)
}

type ruleMatcher interface {
	Match(ctx context.Context, entityID, content string) (*stringmatch.Rule, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command, req execution.Request) execution.Result
}

type reputationSink interface {
	Apply(ctx context.Context, ev reputation.Event) error
}

type commandAuthorizer interface {
	AuthorizeCommand(ctx context.Context, userID, entityID, commandName string) (bool, error)
}

type matchNotifier interface {
	Notify(ctx context.Context, webhookURL string, payload stringmatch.WebhookPayload) error
}

type admitter interface {
	Allow(key string, limit int, window time.Duration) bool
}

// Config tunes the processor's caches and fan-out.
type Config struct {
	CommandCacheTTL    time.Duration // default 5m
	PermissionCacheTTL time.Duration // default 10m
	RateLimitWindow    time.Duration // default 1m
	ModuleWorkers      int           // parallel event-module fan-out, default 5
}

func (c *Config) applyDefaults() {
	if c.CommandCacheTTL <= 0 {
		c.CommandCacheTTL = 5 * time.Minute
	}
	if c.PermissionCacheTTL <= 0 {
		c.PermissionCacheTTL = 10 * time.Minute
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.ModuleWorkers <= 0 {
		c.ModuleWorkers = 5
	}
}

// ModuleResult is the outcome of one event-triggered module dispatch.
type ModuleResult struct {
	Command         string `json:"command"`
	Success         bool   `json:"success"`
	StatusCode      int    `json:"status_code"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	Error           string `json:"error,omitempty"`
}

// EventResult is the response envelope for one processed event.
type EventResult struct {
	Success              bool            `json:"success"`
	Processed            string          `json:"processed"` // command, string_match, event
	Command              string          `json:"command,omitempty"`
	Action               string          `json:"action,omitempty"`
	StatusCode           int             `json:"status_code,omitempty"`
	Response             json.RawMessage `json:"response,omitempty"`
	ExecutionTimeMS      int64           `json:"execution_time_ms,omitempty"`
	SessionID            string          `json:"session_id,omitempty"`
	ReputationProcessed  bool            `json:"reputation_processed"`
	EventModulesExecuted int             `json:"event_modules_executed"`
	ModuleResults        []ModuleResult  `json:"module_results,omitempty"`
	Error                string          `json:"error,omitempty"`

	// httpStatus is the HTTP status the handler responds with; zero means 200.
	// Only router-side rejections (400/403/404/429) set it, never backend codes.
	httpStatus int
}

// HTTPStatus returns the status code the event endpoint responds with.
func (r *EventResult) HTTPStatus() int {
	if r.httpStatus == 0 {
		return 200
	}
	return r.httpStatus
}

// counters back the JSON metrics snapshot endpoint.
type counters struct {
	events        atomic.Int64
	commands      atomic.Int64
	stringMatches atomic.Int64
	rateLimited   atomic.Int64
	eventModules  atomic.Int64
	failures      atomic.Int64
}

// Processor runs the dispatch pipeline for inbound events.
type Processor struct {
	commands   commandSource
	entities   entitySource
	members    membershipSource
	sessions   sessionSource
	matcher    ruleMatcher
	engine     dispatcher
	reputation reputationSink
	webhooks   matchNotifier
	authorizer commandAuthorizer
	limiter    admitter
	cache      *cache.Cache
	logger     *slog.Logger
	cfg        Config

	stats counters
}

// NewProcessor wires the dispatch pipeline.
func NewProcessor(
	commands commandSource,
	entities entitySource,
	members membershipSource,
	sessions sessionSource,
	matcher ruleMatcher,
	engine dispatcher,
	rep reputationSink,
	webhooks matchNotifier,
	authorizer commandAuthorizer,
	limiter admitter,
	c *cache.Cache,
	logger *slog.Logger,
	cfg Config,
) *Processor {
	cfg.applyDefaults()
	return &Processor{
		commands:   commands,
		entities:   entities,
		members:    members,
		sessions:   sessions,
		matcher:    matcher,
		engine:     engine,
		reputation: rep,
		webhooks:   webhooks,
		authorizer: authorizer,
		limiter:    limiter,
		cache:      c,
		logger:     logger,
		cfg:        cfg,
	}
}

// ProcessEvent runs one event through the full pipeline: validate, ensure
// entity and global membership, mint a session, then either the command branch
// or the string-match branch, followed by reputation and event-triggered
// modules. Only validation failures abort early; every later stage degrades to
// a logged warning.
func (p *Processor) ProcessEvent(ctx context.Context, ev InboundEvent) EventResult {
	return p.process(ctx, ev, false)
}

func (p *Processor) process(ctx context.Context, ev InboundEvent, skipOnboard bool) EventResult {
	p.stats.events.Add(1)

	if err := ev.Validate(); err != nil {
		p.stats.failures.Add(1)
		return EventResult{
			Success:    false,
			StatusCode: 400,
			Error:      err.Error(),
			httpStatus: 400,
		}
	}
	telemetry.EventsTotal.WithLabelValues(ev.Platform, ev.MessageType).Inc()

	ent, err := p.entities.Ensure(ctx, ev.Platform, ev.ServerID, ev.ChannelID)
	if err != nil {
		p.stats.failures.Add(1)
		p.logger.Error("ensuring entity", "error", err, "platform", ev.Platform, "server_id", ev.ServerID)
		return EventResult{Success: false, StatusCode: 500, Error: "failed to resolve entity", httpStatus: 500}
	}

	// Batch callers onboard the whole user set up front.
	if !skipOnboard {
		if err := p.members.EnsureUserInGlobal(ctx, ev.UserID); err != nil {
			p.logger.Warn("onboarding user into global community", "error", err, "user_id", ev.UserID)
		}
	}

	var sessionID string
	if sess, err := p.sessions.Create(ctx, ent.EntityID); err != nil {
		p.logger.Warn("creating session", "error", err, "entity_id", ent.EntityID)
	} else {
		sessionID = sess.ID
		telemetry.SessionsCreatedTotal.Inc()
	}

	var result EventResult
	if parsed, ok := p.parseChatCommand(ev); ok {
		result = p.runCommand(ctx, ev, ent.EntityID, parsed)
	} else {
		result = p.runStringMatch(ctx, ev, ent.EntityID)
	}
	result.SessionID = sessionID

	result.ReputationProcessed = p.applyReputation(ctx, ev, ent.EntityID)
	p.runEventModules(ctx, ev, ent.EntityID, &result)

	if !result.Success {
		p.stats.failures.Add(1)
	}
	return result
}

// parseChatCommand parses a command out of chat messages only; other message
// types never carry commands.
func (p *Processor) parseChatCommand(ev InboundEvent) (ParsedCommand, bool) {
	if ev.MessageType != MessageTypeChat {
		return ParsedCommand{}, false
	}
	return ParseCommand(ev.MessageContent)
}

// runCommand is the command branch: lookup, permission, RBAC, rate limit,
// dispatch. Command-action string rules re-enter here; that recursion is
// bounded because this branch never evaluates string rules itself.
func (p *Processor) runCommand(ctx context.Context, ev InboundEvent, entityID string, parsed ParsedCommand) EventResult {
	p.stats.commands.Add(1)
	name := parsed.Prefix + parsed.Name
	result := EventResult{Processed: "command", Command: name}

	cmd, err := p.lookupCommand(ctx, parsed.Prefix, parsed.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			result.StatusCode = 404
			result.Error = "Command not found"
			result.httpStatus = 404
			return result
		}
		p.logger.Error("looking up command", "error", err, "command", name)
		result.StatusCode = 500
		result.Error = "command lookup failed"
		result.httpStatus = 500
		return result
	}

	if _, err := p.lookupPermission(ctx, cmd.ID, entityID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			result.StatusCode = 403
			result.Error = "Command not permitted for this entity"
			result.httpStatus = 403
			return result
		}
		p.logger.Error("looking up command permission", "error", err, "command", name, "entity_id", entityID)
		result.StatusCode = 500
		result.Error = "permission lookup failed"
		result.httpStatus = 500
		return result
	}

	allowed, err := p.authorizer.AuthorizeCommand(ctx, ev.UserID, entityID, parsed.Name)
	if err != nil {
		p.logger.Error("resolving user role", "error", err, "user_id", ev.UserID, "entity_id", entityID)
		result.StatusCode = 500
		result.Error = "role resolution failed"
		result.httpStatus = 500
		return result
	}
	if !allowed {
		result.StatusCode = 403
		result.Error = "You do not have permission to run this command"
		result.httpStatus = 403
		return result
	}

	if cmd.RateLimit > 0 {
		key := ratelimit.BuildKey(cmd.ID.String(), entityID, ev.UserID)
		admitted := p.limiter.Allow(key, cmd.RateLimit, p.cfg.RateLimitWindow)

		// Every admission decision lands in the per-minute DB bucket so the
		// fleet-wide request rate is visible regardless of which container
		// served it.
		go func(commandID uuid.UUID, entityID, userID string) {
			bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.commands.RecordRateLimitBucket(bctx, commandID, entityID, userID); err != nil {
				p.logger.Warn("recording rate limit bucket", "error", err)
			}
		}(cmd.ID, entityID, ev.UserID)

		if !admitted {
			p.stats.rateLimited.Add(1)
			telemetry.RateLimitedTotal.Inc()
			result.StatusCode = 429
			result.Error = "Rate limit exceeded, try again shortly"
			result.httpStatus = 429
			return result
		}
	}

	res := p.execute(ctx, cmd, ev, entityID, parsed.Parameters)
	result.Success = res.Success
	result.StatusCode = res.StatusCode
	result.Response = res.ResponseData
	result.ExecutionTimeMS = res.ExecutionTimeMS
	if !res.Success {
		result.Error = res.Error
	}
	return result
}

// runStringMatch is the no-command branch: evaluate string rules and act on
// the first match.
func (p *Processor) runStringMatch(ctx context.Context, ev InboundEvent, entityID string) EventResult {
	result := EventResult{Success: true, Processed: "event"}
	if ev.MessageType != MessageTypeChat {
		return result
	}

	rule, err := p.matcher.Match(ctx, entityID, ev.MessageContent)
	if err != nil {
		p.logger.Error("evaluating string rules", "error", err, "entity_id", entityID)
		return result
	}
	if rule == nil {
		return result
	}

	p.stats.stringMatches.Add(1)
	telemetry.StringMatchesTotal.WithLabelValues(rule.Action).Inc()
	result.Processed = "string_match"
	result.Action = "string_match"

	switch rule.Action {
	case stringmatch.ActionWarn, stringmatch.ActionBlock:
		payload, _ := json.Marshal(map[string]any{
			"action":  rule.Action,
			"message": rule.Message(),
			"rule_id": rule.ID,
		})
		result.Response = payload

	case stringmatch.ActionCommand:
		synth := p.synthesizeCommand(rule)
		sub := p.runCommand(ctx, ev, entityID, synth)
		sub.Processed = "string_match"
		sub.Action = "string_match"
		// Router-side rejections of the synthesized command are the rule's
		// problem, not the sender's.
		sub.httpStatus = 0
		return sub

	case stringmatch.ActionWebhook:
		if rule.WebhookURL != "" {
			payload := stringmatch.WebhookPayload{
				RuleID:         rule.ID,
				Pattern:        rule.Pattern,
				MatchType:      rule.MatchType,
				MessageContent: ev.MessageContent,
				User:           stringmatch.WebhookUser{ID: ev.UserID, Name: ev.UserName},
				Context: map[string]string{
					"platform":  ev.Platform,
					"server_id": ev.ServerID,
					"entity_id": entityID,
				},
			}
			if err := p.webhooks.Notify(ctx, rule.WebhookURL, payload); err != nil {
				p.logger.Warn("posting string match webhook", "error", err, "rule_id", rule.ID)
			}
		}
		payload, _ := json.Marshal(map[string]any{
			"action":  rule.Action,
			"rule_id": rule.ID,
		})
		result.Response = payload
	}
	return result
}

// synthesizeCommand builds the parsed request a command-action rule triggers.
func (p *Processor) synthesizeCommand(rule *stringmatch.Rule) ParsedCommand {
	name := rule.CommandToExecute
	prefix := command.PrefixLocal
	if len(name) > 0 && (name[:1] == command.PrefixLocal || name[:1] == command.PrefixCommunity) {
		prefix = name[:1]
		name = name[1:]
	}
	params := rule.CommandParameters
	if params == nil {
		params = []string{}
	}
	return ParsedCommand{Prefix: prefix, Name: strings.ToLower(name), Parameters: params}
}

// execute records a pending execution, dispatches to the backend, and records
// the outcome.
func (p *Processor) execute(ctx context.Context, cmd command.Command, ev InboundEvent, entityID string, params []string) execution.Result {
	req := execution.Request{
		Command:    cmd.Name,
		Parameters: params,
		User:       execution.User{ID: ev.UserID, Name: ev.UserName},
		Context: execution.Context{
			Platform:  ev.Platform,
			ServerID:  ev.ServerID,
			ChannelID: ev.ChannelID,
			EntityID:  entityID,
			MessageID: ev.MessageID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		RawMessage:  ev.MessageContent,
		UserContext: ev.UserContext,
	}

	payload, _ := json.Marshal(req)
	executionID, err := p.commands.CreateExecution(ctx, command.CreateExecutionParams{
		CommandID:  cmd.ID,
		EntityID:   entityID,
		UserID:     ev.UserID,
		UserName:   ev.UserName,
		Parameters: params,
		Payload:    payload,
	})
	if err != nil {
		p.logger.Error("creating execution record", "error", err, "command", cmd.Name)
		return execution.Result{Error: "failed to record execution"}
	}

	res := p.engine.Dispatch(ctx, cmd, req)

	finish := command.FinishExecutionParams{
		Status:          executionStatus(res),
		ResponseStatus:  res.StatusCode,
		ResponseData:    res.ResponseData,
		ExecutionTimeMS: res.ExecutionTimeMS,
		RetryCount:      res.RetryCount,
	}
	if res.Error != "" {
		e := res.Error
		finish.Error = &e
	}
	if err := p.commands.FinishExecution(ctx, executionID, finish); err != nil {
		p.logger.Warn("finishing execution record", "error", err, "execution_id", executionID)
	}
	if err := p.commands.TouchPermissionUsage(ctx, cmd.ID, entityID); err != nil {
		p.logger.Warn("touching permission usage", "error", err, "command", cmd.Name)
	}
	return res
}

func executionStatus(res execution.Result) string {
	switch {
	case res.Success:
		return command.StatusSuccess
	case strings.Contains(res.Error, "deadline exceeded") || strings.Contains(res.Error, "Timeout"):
		return command.StatusTimeout
	default:
		return command.StatusFailed
	}
}

// applyReputation posts the event to the reputation service. Failures never
// fail the event.
func (p *Processor) applyReputation(ctx context.Context, ev InboundEvent, entityID string) bool {
	err := p.reputation.Apply(ctx, reputation.Event{
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		EntityID:  entityID,
		Platform:  ev.Platform,
		EventType: ev.MessageType,
		Metadata:  ev.reputationMetadata(),
	})
	if err != nil {
		p.logger.Warn("applying reputation", "error", err, "user_id", ev.UserID)
		return false
	}
	return true
}

// runEventModules dispatches event-triggered modules for the message type:
// sequential modules first in priority order, then parallel modules fanned out
// under a bounded group.
func (p *Processor) runEventModules(ctx context.Context, ev InboundEvent, entityID string, result *EventResult) {
	mods, err := p.commands.ListEventCommands(ctx, entityID, ev.MessageType)
	if err != nil {
		p.logger.Error("listing event modules", "error", err, "entity_id", entityID, "message_type", ev.MessageType)
		return
	}
	if len(mods) == 0 {
		return
	}

	var sequential, parallel []command.Command
	for _, m := range mods {
		if m.ExecutionMode == command.ModeParallel {
			parallel = append(parallel, m)
		} else {
			sequential = append(sequential, m)
		}
	}

	results := make([]ModuleResult, 0, len(mods))
	for _, m := range sequential {
		results = append(results, p.runModule(ctx, m, ev, entityID))
	}

	if len(parallel) > 0 {
		parResults := make([]ModuleResult, len(parallel))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.ModuleWorkers)
		for i, m := range parallel {
			i, m := i, m
			g.Go(func() error {
				parResults[i] = p.runModule(gctx, m, ev, entityID)
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, parResults...)
	}

	p.stats.eventModules.Add(int64(len(results)))
	result.EventModulesExecuted = len(results)
	result.ModuleResults = results
}

func (p *Processor) runModule(ctx context.Context, cmd command.Command, ev InboundEvent, entityID string) ModuleResult {
	res := p.execute(ctx, cmd, ev, entityID, nil)
	return ModuleResult{
		Command:         cmd.Prefix + cmd.Name,
		Success:         res.Success,
		StatusCode:      res.StatusCode,
		ExecutionTimeMS: res.ExecutionTimeMS,
		Error:           res.Error,
	}
}

// lookupCommand is the cache-aside command lookup. Misses hit the store; only
// found commands are cached.
func (p *Processor) lookupCommand(ctx context.Context, prefix, name string) (command.Command, error) {
	key := cache.CommandKey(prefix, name)
	if v, ok := p.cache.Get(key); ok {
		if cmd, ok := v.(command.Command); ok {
			telemetry.CacheHitsTotal.WithLabelValues("command").Inc()
			return cmd, nil
		}
	}
	telemetry.CacheMissesTotal.WithLabelValues("command").Inc()

	cmd, err := p.commands.GetByPrefixName(ctx, prefix, name)
	if err != nil {
		return command.Command{}, err
	}
	p.cache.SetTTL(key, cmd, p.cfg.CommandCacheTTL)
	return cmd, nil
}

// lookupPermission is the cache-aside permission lookup.
func (p *Processor) lookupPermission(ctx context.Context, commandID uuid.UUID, entityID string) (command.Permission, error) {
	key := cache.PermissionKey(commandID.String(), entityID)
	if v, ok := p.cache.Get(key); ok {
		if perm, ok := v.(command.Permission); ok {
			telemetry.CacheHitsTotal.WithLabelValues("permission").Inc()
			return perm, nil
		}
	}
	telemetry.CacheMissesTotal.WithLabelValues("permission").Inc()

	perm, err := p.commands.GetPermission(ctx, commandID, entityID)
	if err != nil {
		return command.Permission{}, err
	}
	p.cache.SetTTL(key, perm, p.cfg.PermissionCacheTTL)
	return perm, nil
}

// MetricsSnapshot is the JSON counter snapshot served by GET /router/metrics.
type MetricsSnapshot struct {
	EventsProcessed      int64 `json:"events_processed"`
	CommandsDispatched   int64 `json:"commands_dispatched"`
	StringMatches        int64 `json:"string_matches"`
	RateLimited          int64 `json:"rate_limited"`
	EventModulesExecuted int64 `json:"event_modules_executed"`
	Failures             int64 `json:"failures"`
	CacheEntries         int   `json:"cache_entries"`
}

// Snapshot returns the processor's counters.
func (p *Processor) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsProcessed:      p.stats.events.Load(),
		CommandsDispatched:   p.stats.commands.Load(),
		StringMatches:        p.stats.stringMatches.Load(),
		RateLimited:          p.stats.rateLimited.Load(),
		EventModulesExecuted: p.stats.eventModules.Load(),
		Failures:             p.stats.failures.Load(),
		CacheEntries:         p.cache.Len(),
	}
}
