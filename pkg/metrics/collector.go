package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/state"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	dataQualityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflect_data_quality_issues_total",
			Help: "Degraded prompt selections by kind",
		},
		[]string{"kind"},
	)
	promptsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflect_prompts_issued_total",
			Help: "Prompts issued by category and trigger",
		},
		[]string{"category", "trigger"},
	)
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflect_prompt_deliveries_total",
			Help: "Prompt delivery attempts by status",
		},
		[]string{"status"},
	)
	responsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflect_responses_total",
			Help: "Inbound replies by capture outcome",
		},
		[]string{"outcome"},
	)
	tickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reflect_tick_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	tickUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflect_tick_users_total",
			Help: "Users processed by scheduler ticks by result",
		},
		[]string{"result"},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reflect_users_by_state",
			Help: "Number of users per journaling state",
		},
		[]string{"state"},
	)
	subscribedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reflect_subscribed_users",
			Help: "Number of users receiving scheduled prompts",
		},
	)
)

var trackedStates = []state.State{
	state.StateIdle,
	state.StateAwaitingResponse,
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	botCommandsTotal.WithLabelValues(orUnknown(command), orUnknown(status)).Inc()
	commandDurationSeconds.WithLabelValues(orUnknown(command)).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(orUnknown(from), orUnknown(to)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(orUnknown(errType), orUnknown(severity)).Inc()
}

// RecordDataQualityIssue counts a degraded selection such as an unknown category.
func RecordDataQualityIssue(kind string) {
	dataQualityTotal.WithLabelValues(orUnknown(kind)).Inc()
}

// RecordPromptIssued counts an issued prompt. trigger is "schedule" or "on_demand".
func RecordPromptIssued(category, trigger string) {
	promptsIssuedTotal.WithLabelValues(orUnknown(category), orUnknown(trigger)).Inc()
}

// RecordDelivery counts a delivery attempt outcome.
func RecordDelivery(status string) {
	deliveriesTotal.WithLabelValues(orUnknown(status)).Inc()
}

// RecordResponse counts a reply outcome.
func RecordResponse(outcome string) {
	responsesTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

// ObserveTick records the duration of one scheduler tick.
func ObserveTick(duration time.Duration) {
	tickDurationSeconds.Observe(duration.Seconds())
}

// AddTickUsers adds n users with the given per-user tick result.
func AddTickUsers(result string, n int) {
	if n <= 0 {
		return
	}
	tickUsersTotal.WithLabelValues(orUnknown(result)).Add(float64(n))
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	usersByState.WithLabelValues(orUnknown(state)).Set(float64(count))
}

// SetSubscribedUsers updates the subscribed users gauge.
func SetSubscribedUsers(count int) {
	subscribedUsers.Set(float64(count))
}

// RecordLister is the subset of the record store the collector polls.
type RecordLister interface {
	ListAll(ctx context.Context) ([]*domain.UserRecord, error)
}

// StateCollector periodically counts users per journaling state.
type StateCollector struct {
	store    RecordLister
	interval time.Duration
	log      *slog.Logger
}

// NewStateCollector builds a collector bound to the provided store.
func NewStateCollector(store RecordLister, interval time.Duration, log *slog.Logger) *StateCollector {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &StateCollector{store: store, interval: interval, log: log}
}

// Run polls the store until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("collect user states", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect performs a single pass over the store.
func (c *StateCollector) Collect(ctx context.Context) error {
	records, err := c.store.ListAll(ctx)
	if err != nil {
		return err
	}

	counts := make(map[state.State]int, len(trackedStates))
	subscribed := 0
	for _, rec := range records {
		counts[state.Of(rec)]++
		if rec.Subscribed {
			subscribed++
		}
	}

	for _, tracked := range trackedStates {
		SetUsersByState(string(tracked), counts[tracked])
	}
	SetSubscribedUsers(subscribed)

	return nil
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
