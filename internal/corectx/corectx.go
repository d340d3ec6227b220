// Package corectx wires every subsystem of the perception-action loop
// together once at startup: the five monitors, the event loop core, the
// cycle orchestrator, the feedback processor, and the two learning
// sinks plus the action executor. No package-level globals — everything
// lives on the Context struct, the way cmd/bud/main.go wires
// activity/focus/memory/effectors explicitly in main() instead of
// relying on init()-time singletons.
package corectx

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/pulseloop/internal/activity"
	"github.com/vthunder/pulseloop/internal/config"
	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/executor"
	"github.com/vthunder/pulseloop/internal/external"
	"github.com/vthunder/pulseloop/internal/feedback"
	"github.com/vthunder/pulseloop/internal/loopcore"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/monitors"
	"github.com/vthunder/pulseloop/internal/orchestrator"
	"github.com/vthunder/pulseloop/internal/shaping"
	"github.com/vthunder/pulseloop/internal/sinks"
)

// errCycleFailed is the error value recorded against the activity trail
// for a cycle that never reached completion, whether the cognitive
// stage produced no decision or dispatch to the executor failed.
var errCycleFailed = errors.New("cycle did not complete")

// Monitor is the common shape every real-time monitor satisfies.
type Monitor interface {
	RegisterCallback(monitors.Callback)
	Initialize()
	Shutdown()
}

// Context holds every wired subsystem. Construct with New; tear down
// with Shutdown.
type Context struct {
	Secrets config.Secrets
	Rules   config.Rules

	Core         *loopcore.Core
	Orchestrator *orchestrator.Orchestrator
	Feedback     *feedback.Processor
	Activity     *activity.Log

	HistoricalStore *sinks.SQLiteStore
	Learner         *sinks.HeuristicLearner
	Executor        *executor.DiscordExecutor

	Monitors []Monitor

	discordSession   *discordgo.Session
	historyFile      string
	cycleHistoryFile string
}

// New constructs every subsystem and wires them together. It does not
// start any goroutines; call Start for that.
func New(secrets config.Secrets, rules config.Rules) (*Context, error) {
	store, err := sinks.NewSQLiteStore(filepath.Join(secrets.StatePath, "pulseloop_history.db"))
	if err != nil {
		return nil, err
	}
	learner := sinks.NewHeuristicLearner()

	cursor := monitors.NewCursorMonitor(nil)
	filesystem := monitors.NewFilesystemMonitor(nil)
	scheduler := monitors.NewSchedulerMonitor()
	systemState := monitors.NewSystemStateMonitor()
	userActivity := monitors.NewUserActivityMonitor()
	if iv := rules.Monitors.Filesystem; iv > 0 {
		filesystem.PollInterval = iv
	}
	if iv := rules.Monitors.Scheduler; iv > 0 {
		scheduler.CheckInterval = iv
	}
	if iv := rules.Monitors.SystemState; iv > 0 {
		systemState.UpdateInterval = iv
	}
	if iv := rules.Monitors.UserActivity; iv > 0 {
		userActivity.AnalysisInterval = iv
	}

	var discordExecutor *executor.DiscordExecutor
	var actionExecutor *external.ActionExecutor
	var discordSession *discordgo.Session
	if secrets.DiscordToken != "" {
		session, err := discordgo.New("Bot " + secrets.DiscordToken)
		if err != nil {
			logging.Warn("corectx", "failed to create discord session, running without an action executor: %v", err)
		} else {
			discordExecutor = executor.NewDiscordExecutor(session)
			actionExecutor = discordExecutor.Interface()
			// A message arriving is itself an input event for the
			// user-activity monitor's rate classifier, the same way a
			// keystroke or click would be.
			session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
				if m.Author != nil && m.Author.Bot {
					return
				}
				userActivity.RecordInput()
			})
			discordSession = session
		}
	}

	orch := orchestrator.New()
	orch.Wire(actionExecutor, store.Interface(), learner.Interface())

	proc := feedback.New()
	orch.ProcessFeedback = proc.ProcessFeedback

	trail := activity.New(secrets.StatePath)

	cycleHistoryFile := filepath.Join(secrets.StatePath, "cycle_history.jsonl")
	orch.OnCycleStart = func(c *coretypes.Cycle) {
		kind := ""
		if c.Perception != nil {
			kind = string(c.Perception.Kind)
		}
		if err := trail.LogPerception("cycle "+c.ID+" opened", kind); err != nil {
			logging.Debug("corectx", "activity log failed: %v", err)
		}
	}
	orch.OnCycleFail = func(c *coretypes.Cycle) {
		if c.Decision != nil {
			if err := trail.LogDecision("decision made but cycle failed", c.ID, string(c.Decision.ActionKind), c.Decision.Urgency, c.Decision.Confidence); err != nil {
				logging.Debug("corectx", "activity log failed: %v", err)
			}
		}
		if err := trail.LogError("cycle "+c.ID+" failed", errCycleFailed, map[string]any{"cycle_id": c.ID}); err != nil {
			logging.Debug("corectx", "activity log failed: %v", err)
		}
	}
	orch.OnFeedback = func(s *coretypes.FeedbackSignal) {
		if err := trail.LogFeedback("feedback signal attached", s.ActionID, string(s.Layer), s.Magnitude); err != nil {
			logging.Debug("corectx", "activity log failed: %v", err)
		}
	}
	orch.OnCycleEnd = func(c *coretypes.Cycle) {
		if c.Decision != nil {
			if err := trail.LogDecision("cycle completed", c.ID, string(c.Decision.ActionKind), c.Decision.Urgency, c.Decision.Confidence); err != nil {
				logging.Debug("corectx", "activity log failed: %v", err)
			}
		}
		if c.ActionID != "" {
			if err := trail.LogAction("action dispatched and completed", c.ID, c.ActionID); err != nil {
				logging.Debug("corectx", "activity log failed: %v", err)
			}
		}
		if err := appendCycleRecord(cycleHistoryFile, c); err != nil {
			logging.Warn("corectx", "failed to append cycle history: %v", err)
		}
	}

	core := loopcore.New(rules.QueueSize, rules.LatencyTarget)
	core.RegisterDefaultHandler(func(event *coretypes.PerceptionEvent) {
		orch.StartCycle(context.Background(), event)
	})
	installShapingRules(core, rules)

	allMonitors := []Monitor{cursor, filesystem, scheduler, systemState, userActivity}
	for _, m := range allMonitors {
		m.RegisterCallback(func(event *coretypes.PerceptionEvent) { core.AddEvent(event) })
	}

	ctx := &Context{
		Secrets:          secrets,
		Rules:            rules,
		Core:             core,
		Orchestrator:     orch,
		Feedback:         proc,
		Activity:         trail,
		HistoricalStore:  store,
		Learner:          learner,
		Executor:         discordExecutor,
		Monitors:         allMonitors,
		discordSession:   discordSession,
		historyFile:      filepath.Join(secrets.StatePath, "feedback_history.json"),
		cycleHistoryFile: cycleHistoryFile,
	}

	if err := proc.LoadHistory(ctx.historyFile); err != nil {
		logging.Warn("corectx", "failed to load feedback history: %v", err)
	}

	return ctx, nil
}

// Start initializes every monitor and runs the event loop core. It
// returns immediately; the core and monitors run in background
// goroutines until Shutdown is called or runCtx is cancelled.
func (c *Context) Start(runCtx context.Context) {
	if c.discordSession != nil {
		if err := c.discordSession.Open(); err != nil {
			logging.Warn("corectx", "failed to open discord session, message handlers will not fire: %v", err)
		}
	}
	for _, m := range c.Monitors {
		m.Initialize()
	}
	go c.Core.Run(runCtx)
	logging.Info("corectx", "started %d monitors and the event loop core", len(c.Monitors))
}

// Shutdown stops every monitor, the event loop core, and persists the
// feedback processor's history.
func (c *Context) Shutdown() {
	for _, m := range c.Monitors {
		m.Shutdown()
	}
	c.Core.Shutdown()

	if c.discordSession != nil {
		if err := c.discordSession.Close(); err != nil {
			logging.Warn("corectx", "failed to close discord session: %v", err)
		}
	}

	if err := c.Feedback.SaveHistory(c.historyFile); err != nil {
		logging.Warn("corectx", "failed to save feedback history: %v", err)
	}
	if err := c.HistoricalStore.Close(); err != nil {
		logging.Warn("corectx", "failed to close historical store: %v", err)
	}
	logging.Info("corectx", "shutdown complete")
}

// installShapingRules registers every aggregation and debounce/throttle
// rule from rules (seeded by config.DefaultRules and overridable via
// pulseloop.yaml) onto the core's Aggregator and DebounceThrottle. Every
// aggregation rule reduces with shaping.LatestWithTrail, the only
// reducer this domain defines, mirroring event_loop_system.py's single
// aggregate_mouse_moves function reused verbatim for every aggregated
// kind in the original.
func installShapingRules(core *loopcore.Core, rules config.Rules) {
	for kind, rule := range rules.Aggregation {
		core.Aggregator.Register(shaping.AggregationRule{
			Kind:    coretypes.PerceptionKind(kind),
			Window:  rule.Window,
			MaxSize: rule.MaxBatchSize,
			Reduce:  shaping.LatestWithTrail,
		})
	}
	for kind, rule := range rules.DebounceThrottle {
		if rule.DebounceWindow > 0 {
			core.DebounceThrottle.RegisterDebounce(shaping.DebounceConfig{
				Kind:     coretypes.PerceptionKind(kind),
				Delay:    rule.DebounceWindow,
				Leading:  rule.DebounceLeading,
				Trailing: rule.DebounceTrailing,
			})
		}
		if rule.ThrottleWindow > 0 {
			core.DebounceThrottle.RegisterThrottle(shaping.ThrottleConfig{
				Kind:     coretypes.PerceptionKind(kind),
				Interval: rule.ThrottleWindow,
				Leading:  rule.ThrottleLeading,
				Trailing: rule.ThrottleTrailing,
			})
		}
	}
}

// cycleRecord is one line of cycle_history.jsonl, a flattened view of a
// completed cycle convenient for ad-hoc querying.
type cycleRecord struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"action_id"`
	State       string    `json:"state"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	LatencyMS   float64   `json:"latency_ms"`
	Perception  string    `json:"perception_kind,omitempty"`
	ActionKind  string    `json:"action_kind,omitempty"`
	FeedbackN   int       `json:"feedback_signal_count"`
}

// appendCycleRecord appends one completed cycle as a JSON line, the same
// append-only log shape activity.jsonl uses.
func appendCycleRecord(path string, c *coretypes.Cycle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := cycleRecord{
		ID:        c.ID,
		ActionID:  c.ActionID,
		State:     string(c.State),
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		LatencyMS: c.LatencyMS,
		FeedbackN: len(c.FeedbackSignals),
	}
	if c.Perception != nil {
		rec.Perception = string(c.Perception.Kind)
	}
	if c.Decision != nil {
		rec.ActionKind = string(c.Decision.ActionKind)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
