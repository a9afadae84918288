package events

import (
	"sort"
	"sync"

	"github.com/itiky/drop-engine/model"
)

// Topic is a notification channel name.
type Topic string

const (
	// Data: DropsChanged
	TopicDrops Topic = "drops"
	// Data: RenderTick
	TopicRender Topic = "render"
	// Data: *model.Inventory (viewer)
	TopicInventory Topic = "inventory"
	// Data: *model.BankState
	TopicBank Topic = "bank"
	// Data: *model.OnlineStats
	TopicOnline Topic = "online"
	// Data: model.Notice
	TopicNotice Topic = "notice"
	// Data: model.EngineSession
	TopicSession Topic = "session"
	// Data: AdminInventory
	TopicAdminInventory Topic = "admin_inventory"
	// Data: []model.PurchaseRequest
	TopicPurchaseRequests Topic = "purchase_requests"
)

type (
	// Event is a published notification. Data is a copy owned by the receiver.
	Event struct {
		Topic Topic
		Data  interface{}
	}

	// Handler receives events synchronously, in publish order.
	Handler func(Event)

	// DropsChanged carries registry mutations.
	DropsChanged struct {
		Changes []model.DropChange
	}

	// RenderTick carries the countdown view of every tracked drop.
	RenderTick struct {
		Drops model.DropList
	}

	// AdminInventory is an inventory of a user other than the viewer touched by an admin operation.
	AdminInventory struct {
		UserId    model.UserId
		Inventory *model.Inventory
	}
)

// Bus is a typed in-process publish/subscribe channel.
type Bus struct {
	sync.RWMutex
	nextId   uint64
	handlers map[Topic]map[uint64]Handler
}

// Subscribe registers a handler for a topic and returns the unsubscribe func.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.Lock()
	defer b.Unlock()

	b.nextId++
	id := b.nextId
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]Handler)
	}
	b.handlers[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.Lock()
			defer b.Unlock()

			delete(b.handlers[topic], id)
		})
	}
}

// Publish delivers the event to every handler of its topic.
// Handlers run on the publisher goroutine in subscription order.
func (b *Bus) Publish(topic Topic, data interface{}) {
	b.RLock()
	ids := make([]uint64, 0, len(b.handlers[topic]))
	for id := range b.handlers[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[topic][id])
	}
	b.RUnlock()

	event := Event{Topic: topic, Data: data}
	for _, handler := range handlers {
		handler(event)
	}
}

// HasSubscribers reports whether anyone listens on the topic.
func (b *Bus) HasSubscribers(topic Topic) bool {
	b.RLock()
	defer b.RUnlock()

	return len(b.handlers[topic]) > 0
}

// NewBus creates a new empty Bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Topic]map[uint64]Handler),
	}
}
