package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the uvfleet system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// MinionID is the associated machine, if applicable.
	MinionID string `json:"minion_id,omitempty"`

	// User is the associated managed user, if applicable.
	User string `json:"user,omitempty"`

	// Tool is the associated uv tool, if applicable.
	Tool string `json:"tool,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeResolutionCompleted = "resolution.completed"
	EventTypeResolutionFailed    = "resolution.failed"
	EventTypeRunStarted          = "run.started"
	EventTypeRunCompleted        = "run.completed"
	EventTypeRunFailed           = "run.failed"
	EventTypeItemApplied         = "item.applied"
	EventTypeItemFailed          = "item.failed"
	EventTypeDriftDetected       = "drift.detected"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeUserSkipped         = "user.skipped"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishResolutionCompleted publishes a resolution completed event.
func (ep *EventPublisher) PublishResolutionCompleted(minionID string, users int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeResolutionCompleted,
		Source:   "resolver",
		MinionID: minionID,
		Message:  fmt.Sprintf("Configuration resolved for %s (%d users)", minionID, users),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"users":    users,
			"duration": duration.Seconds(),
		},
	})
}

// PublishResolutionFailed publishes a resolution failed event.
func (ep *EventPublisher) PublishResolutionFailed(minionID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeResolutionFailed,
		Source:   "resolver",
		MinionID: minionID,
		Message:  fmt.Sprintf("Configuration resolution failed for %s: %s", minionID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, minionID string) error {
	return ep.Publish(Event{
		Type:     EventTypeRunStarted,
		Source:   "engine",
		RunID:    runID,
		MinionID: minionID,
		Message:  fmt.Sprintf("Run %s started against %s", runID, minionID),
		Level:    EventLevelInfo,
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishItemApplied publishes an item applied event.
func (ep *EventPublisher) PublishItemApplied(runID, kind, user string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeItemApplied,
		Source:  "engine",
		RunID:   runID,
		User:    user,
		Message: fmt.Sprintf("Item %s applied", kind),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind":     kind,
			"duration": duration.Seconds(),
		},
	})
}

// PublishItemFailed publishes an item failed event.
func (ep *EventPublisher) PublishItemFailed(runID, kind, user, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeItemFailed,
		Source:  "engine",
		RunID:   runID,
		User:    user,
		Message: fmt.Sprintf("Item %s failed: %s", kind, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(minionID, user, tool string, changeCount int) error {
	return ep.Publish(Event{
		Type:     EventTypeDriftDetected,
		Source:   "drift_detector",
		MinionID: minionID,
		User:     user,
		Tool:     tool,
		Message:  fmt.Sprintf("Drift detected on tool %s (%d changes)", tool, changeCount),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"change_count": changeCount,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(minionID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy_engine",
		MinionID: minionID,
		Message:  fmt.Sprintf("Policy violation on %s: %s - %s", minionID, policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishUserSkipped publishes a user skipped event (uv disabled).
func (ep *EventPublisher) PublishUserSkipped(minionID, user string) error {
	return ep.Publish(Event{
		Type:     EventTypeUserSkipped,
		Source:   "resolver",
		MinionID: minionID,
		User:     user,
		Message:  fmt.Sprintf("User %s opted out of uv management", user),
		Level:    EventLevelInfo,
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByMinionID creates a filter that only allows events for a specific machine.
func FilterByMinionID(minionID string) EventFilter {
	return func(event Event) bool {
		return event.MinionID == minionID
	}
}
