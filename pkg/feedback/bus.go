package feedback

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
)

// Feedback paths the monitor subscribes to
const (
	PathCallSuccessful = "Event/CallSuccessful"
	PathCallDisconnect = "Event/CallDisconnect"
	PathMicrophoneMute = "Status/Audio/Microphones/Mute"
)

// Notification is a single feedback document delivered by the device for a
// subscribed path. Payload holds the document below the path, e.g. the
// CallSuccessful object or the "On"/"Off" mute string.
type Notification struct {
	Path       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Subscriber represents a consumer of feedback notifications
type Subscriber struct {
	ID        string
	Paths     map[string]bool // Filter by path prefix (empty for all paths)
	Channel   chan *Notification
	connected bool
	mutex     sync.RWMutex
}

// NewSubscriber creates a new feedback subscriber
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		ID:        id,
		Paths:     make(map[string]bool),
		Channel:   make(chan *Notification, bufferSize),
		connected: true,
	}
}

// SetPathFilter sets the path prefix filter
func (s *Subscriber) SetPathFilter(paths ...string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Paths = make(map[string]bool)
	for _, p := range paths {
		s.Paths[p] = true
	}
}

// ShouldReceive checks if the subscriber should receive this notification
func (s *Subscriber) ShouldReceive(n *Notification) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.connected {
		return false
	}
	if len(s.Paths) == 0 {
		return true
	}
	for p := range s.Paths {
		if n.Path == p || strings.HasPrefix(n.Path, p+"/") {
			return true
		}
	}
	return false
}

// Send sends a notification to the subscriber (non-blocking)
func (s *Subscriber) Send(n *Notification) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.connected {
		return false
	}

	select {
	case s.Channel <- n:
		return true
	default:
		log.Warnf("Dropping feedback %s for subscriber %s (channel full)", n.Path, s.ID)
		return false
	}
}

// Close closes the subscriber
func (s *Subscriber) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.connected {
		s.connected = false
		close(s.Channel)
	}
}

// Bus distributes device feedback to subscribers
type Bus struct {
	subscribers map[string]*Subscriber
	mutex       sync.RWMutex
	stats       BusStats
	onPublish   func(path string)
}

// BusStats holds statistics for the feedback bus
type BusStats struct {
	TotalNotifications   uint64
	DroppedNotifications uint64
	ActiveSubscribers    int
	LastNotificationTime time.Time
}

// NewBus creates a new feedback bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
	}
}

// OnPublish registers a hook invoked for every published path. Used for metrics.
func (b *Bus) OnPublish(fn func(path string)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onPublish = fn
}

// Subscribe adds a new subscriber to the bus
func (b *Bus) Subscribe(subscriber *Subscriber) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subscribers[subscriber.ID] = subscriber
	b.stats.ActiveSubscribers = len(b.subscribers)

	log.Infof("Added feedback subscriber: %s (total: %d)", subscriber.ID, b.stats.ActiveSubscribers)
}

// Unsubscribe removes a subscriber from the bus
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if subscriber, exists := b.subscribers[subscriberID]; exists {
		subscriber.Close()
		delete(b.subscribers, subscriberID)
		b.stats.ActiveSubscribers = len(b.subscribers)

		log.Infof("Removed feedback subscriber: %s (total: %d)", subscriberID, b.stats.ActiveSubscribers)
	}
}

// Publish delivers a notification to all matching subscribers. It reports
// whether at least one subscriber accepted it.
func (b *Bus) Publish(n *Notification) bool {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now()
	}

	b.mutex.Lock()
	subscribers := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.ShouldReceive(n) {
			subscribers = append(subscribers, sub)
		}
	}
	b.stats.TotalNotifications++
	b.stats.LastNotificationTime = n.ReceivedAt
	hook := b.onPublish
	b.mutex.Unlock()

	if hook != nil {
		hook(n.Path)
	}

	sent := 0
	dropped := 0
	for _, subscriber := range subscribers {
		if subscriber.Send(n) {
			sent++
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		b.mutex.Lock()
		b.stats.DroppedNotifications += uint64(dropped)
		b.mutex.Unlock()
	}

	return sent > 0
}

// GetStats returns bus statistics
func (b *Bus) GetStats() BusStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	stats := b.stats
	stats.ActiveSubscribers = len(b.subscribers)
	return stats
}

// Shutdown closes all subscribers
func (b *Bus) Shutdown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	log.Info("Shutting down feedback bus")

	for id, subscriber := range b.subscribers {
		subscriber.Close()
		log.Debugf("Closed feedback subscriber: %s", id)
	}

	b.subscribers = make(map[string]*Subscriber)
	b.stats.ActiveSubscribers = 0
}
