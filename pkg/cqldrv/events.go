package cqldrv

import (
	"context"
	"sync"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// ServerEvent is a decoded unsolicited push from a cluster member,
// delivered to every active Listen subscriber for the matching kind.
type ServerEvent struct {
	Type               cqlproto.EventType
	TopologyChangeType string
	StatusChangeType   string
	Address            string
	Port               int32
	SchemaChangeType   string
	SchemaChangeTarget string
	SchemaKeyspace     string
	SchemaObject       string
	SchemaArguments    []string
}

// eventBroker owns the session's single dedicated registration connection
// and fans out decoded events to every subscriber, reconnecting that
// connection independently of the request-serving pools.
type eventBroker struct {
	cfg    *ClusterConfig
	dialer Dialer
	node   func() *Node // picks a contact node for (re)connecting

	mu          sync.Mutex
	subscribers map[int]chan *cqlproto.EventBody
	nextID      int
	cur         *conn
	closed      bool
}

func newEventBroker(cfg *ClusterConfig, dialer Dialer, pickNode func() *Node) *eventBroker {
	return &eventBroker{
		cfg:         cfg,
		dialer:      dialer,
		node:        pickNode,
		subscribers: make(map[int]chan *cqlproto.EventBody),
	}
}

// start dials the registration connection and begins the reconnect loop
// that keeps it alive for the session's lifetime.
func (b *eventBroker) start(ctx context.Context) {
	go b.run(ctx)
}

func (b *eventBroker) run(ctx context.Context) {
	schedule := b.cfg.Reconnection.NewSchedule()
	for {
		if b.isClosed() {
			return
		}
		node := b.node()
		if node == nil {
			return
		}
		dctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		c, err := dial(dctx, b.dialer, node, b.cfg)
		cancel()
		if err != nil {
			delay, ok := schedule.NextDelay()
			if !ok {
				return
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		types := b.cfg.Events.types()
		if len(types) > 0 {
			if err := c.registerEvents(ctx, types, b.dispatch); err != nil {
				c.close()
				continue
			}
		}

		b.mu.Lock()
		b.cur = c
		b.mu.Unlock()
		schedule = b.cfg.Reconnection.NewSchedule()

		<-c.deadCh
		b.mu.Lock()
		if b.cur == c {
			b.cur = nil
		}
		b.mu.Unlock()
	}
}

func (b *eventBroker) dispatch(ev *cqlproto.EventBody) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the registration
			// connection's reader goroutine.
		}
	}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel func that unregisters it.
func (b *eventBroker) subscribe() (<-chan *cqlproto.EventBody, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *cqlproto.EventBody, 32)
	b.subscribers[id] = ch
	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

func (b *eventBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *eventBroker) close() {
	b.mu.Lock()
	b.closed = true
	c := b.cur
	b.cur = nil
	b.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// EventStream is a cancellable subscription to decoded server events,
// returned by Session.Listen.
type EventStream struct {
	Events <-chan *ServerEvent
	cancel func()
	done   chan struct{}
}

// Close stops delivering events to this stream and releases it from the
// broker's subscriber set.
func (s *EventStream) Close() {
	s.cancel()
	close(s.done)
}

// listen builds a ServerEvent stream from the broker's raw EventBody
// channel, translating types inline so Listen's public surface never
// exposes the wire body type.
func (sess *Session) listen() *EventStream {
	raw, cancel := sess.events.subscribe()
	out := make(chan *ServerEvent, 32)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- &ServerEvent{
					Type:               ev.Type,
					TopologyChangeType: ev.TopologyChangeType,
					StatusChangeType:   ev.StatusChangeType,
					Address:            ev.Address,
					Port:               ev.Port,
					SchemaChangeType:   ev.SchemaChangeType,
					SchemaChangeTarget: ev.SchemaChangeTarget,
					SchemaKeyspace:     ev.SchemaKeyspace,
					SchemaObject:       ev.SchemaObject,
					SchemaArguments:    ev.SchemaArguments,
				}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return &EventStream{Events: out, cancel: cancel, done: done}
}
