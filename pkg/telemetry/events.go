package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification of a session or guest operation.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component the event originated in.
	Source string `json:"source"`

	// Address is the endpoint address, if applicable.
	Address string `json:"address,omitempty"`

	// VM is the virtual machine identifier, if applicable.
	VM string `json:"vm,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeLogin          = "session.login"
	EventTypeLoginFailed    = "session.login_failed"
	EventTypeLogout         = "session.logout"
	EventTypeRefreshed      = "session.refreshed"
	EventTypeTransfer       = "guest.transfer"
	EventTypeTransferFailed = "guest.transfer_failed"
	EventTypeScriptFinished = "guest.script_finished"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
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
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishLogin publishes the outcome of a login.
func (ep *EventPublisher) PublishLogin(address, user string, duration time.Duration, err error) error {
	if err != nil {
		return ep.Publish(Event{
			Type:    EventTypeLoginFailed,
			Source:  "session",
			Address: address,
			Message: fmt.Sprintf("Login to %s as %s failed: %v", address, user, err),
			Level:   EventLevelError,
			Data:    map[string]interface{}{"user": user},
		})
	}
	return ep.Publish(Event{
		Type:    EventTypeLogin,
		Source:  "session",
		Address: address,
		Message: fmt.Sprintf("Logged in to %s as %s", address, user),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"user":     user,
			"duration": duration.Seconds(),
		},
	})
}

// PublishLogout publishes a logout.
func (ep *EventPublisher) PublishLogout(address string, err error) error {
	e := Event{
		Type:    EventTypeLogout,
		Source:  "session",
		Address: address,
		Message: fmt.Sprintf("Logged out of %s", address),
		Level:   EventLevelInfo,
	}
	if err != nil {
		e.Message = fmt.Sprintf("Logout of %s failed remotely: %v", address, err)
		e.Level = EventLevelWarning
	}
	return ep.Publish(e)
}

// PublishRefreshed publishes a refresh of an expired session.
func (ep *EventPublisher) PublishRefreshed(address string, err error) error {
	e := Event{
		Type:    EventTypeRefreshed,
		Source:  "session",
		Address: address,
		Message: fmt.Sprintf("Session of %s expired and was re-established", address),
		Level:   EventLevelWarning,
	}
	if err != nil {
		e.Message = fmt.Sprintf("Session of %s expired and could not be re-established: %v", address, err)
		e.Level = EventLevelError
	}
	return ep.Publish(e)
}

// PublishTransfer publishes a guest file transfer.
func (ep *EventPublisher) PublishTransfer(direction string, bytes int64, duration time.Duration, err error) error {
	if err != nil {
		return ep.Publish(Event{
			Type:    EventTypeTransferFailed,
			Source:  "guest",
			Message: fmt.Sprintf("Guest %s failed: %v", direction, err),
			Level:   EventLevelError,
			Data:    map[string]interface{}{"direction": direction},
		})
	}
	return ep.Publish(Event{
		Type:    EventTypeTransfer,
		Source:  "guest",
		Message: fmt.Sprintf("Guest %s of %d bytes", direction, bytes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"direction": direction,
			"bytes":     bytes,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishScriptFinished publishes the result of a guest script.
func (ep *EventPublisher) PublishScriptFinished(id string, exitCode int32, duration time.Duration, err error) error {
	e := Event{
		Type:    EventTypeScriptFinished,
		Source:  "guest",
		Message: fmt.Sprintf("Guest script %s exited with %d", id, exitCode),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"script_id": id,
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	}
	switch {
	case err != nil:
		e.Message = fmt.Sprintf("Guest script %s could not be run: %v", id, err)
		e.Level = EventLevelError
	case exitCode != 0:
		e.Level = EventLevelWarning
	}
	return ep.Publish(e)
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// drain what is already queued, up to a batch
			for len(batch) < ep.config.MaxBatchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			return
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls every matching subscriber in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

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

// FilterByLevel allows events of minLevel or higher.
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

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByAddress allows events of one endpoint.
func FilterByAddress(address string) EventFilter {
	return func(event Event) bool {
		return event.Address == address
	}
}
