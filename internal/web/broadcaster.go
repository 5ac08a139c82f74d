package web

import (
	"context"
	"log/slog"
	"sync"
)

// clientBuffer is the number of events queued per SSE client before
// new events are dropped for that client.
const clientBuffer = 16

// message is one queued event. Seq is the transcript sequence number
// the event carries, or 0 for events outside the sequence.
type message struct {
	Seq  int64
	Data []byte
}

// Broadcaster fans events out to Server-Sent Events clients in the
// order they are broadcast.
type Broadcaster struct {
	clients   map[chan message]bool
	newClient chan chan message
	delClient chan chan message
	messages  chan message
	stopped   chan struct{}
	mu        sync.Mutex
	logger    *slog.Logger
}

// NewBroadcaster creates a new Broadcaster instance.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[chan message]bool),
		newClient: make(chan chan message),
		delClient: make(chan chan message),
		messages:  make(chan message, 64),
		stopped:   make(chan struct{}),
		logger:    logger,
	}
}

// Run starts the broadcaster's event loop. It returns when ctx is done,
// closing every remaining client channel. Run must be called at most once.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.stopped)
	defer func() {
		b.mu.Lock()
		for client := range b.clients {
			delete(b.clients, client)
			close(client)
		}
		b.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-b.newClient:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
		case client := <-b.delClient:
			b.mu.Lock()
			if b.clients[client] {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
		case msg := <-b.messages:
			b.mu.Lock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					b.logger.Warn("SSE client buffer full, dropping event")
				}
			}
			b.mu.Unlock()
		}
	}
}

// Broadcast queues data for every connected client. It never blocks; if
// the queue is full the event is dropped.
func (b *Broadcaster) Broadcast(seq int64, data []byte) {
	select {
	case b.messages <- message{Seq: seq, Data: data}:
	default:
		b.logger.Warn("broadcast queue full, dropping event")
	}
}

// subscribe registers a new client. It returns false if ctx ends or
// the event loop stops first.
func (b *Broadcaster) subscribe(ctx context.Context) (chan message, bool) {
	client := make(chan message, clientBuffer)
	select {
	case b.newClient <- client:
		return client, true
	case <-ctx.Done():
	case <-b.stopped:
	}
	return nil, false
}

// unsubscribe removes a client. Once the event loop has stopped the
// channel is already closed and there is nothing to do.
func (b *Broadcaster) unsubscribe(client chan message) {
	select {
	case b.delClient <- client:
	case <-b.stopped:
	}
}

// Len returns the number of connected clients.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
