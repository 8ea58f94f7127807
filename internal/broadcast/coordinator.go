// Package broadcast keeps every viewer's copy of the live queue converging
// to the store. Views are recomputed from the store on each signal rather
// than patched from the mutated ticket.
package broadcast

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"sync"
	"time"

	"qms/turno-service/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	EventQueueUpdated = "queue.updated"

	publishTimeout = 5 * time.Second
)

var (
	broadcastsTotal  = expvar.NewInt("broadcasts_total")
	broadcastsFailed = expvar.NewInt("broadcasts_failed_total")
)

type ViewFinder interface {
	FindByDay(ctx context.Context, day models.Day, states ...string) ([]models.Ticket, error)
}

type Publisher interface {
	Broadcast(payload []byte)
	SendTo(clientID string, payload []byte) bool
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   models.Snapshot `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Options struct {
	Location *time.Location
	Now      func() time.Time
}

// Coordinator publishes snapshots one at a time: each publish reads the
// store after the previous one went out, so the last message a subscriber
// receives is never older than the last committed mutation.
type Coordinator struct {
	mu        sync.Mutex
	finder    ViewFinder
	publisher Publisher
	location  *time.Location
	now       func() time.Time
}

func NewCoordinator(finder ViewFinder, publisher Publisher, options Options) *Coordinator {
	location := options.Location
	if location == nil {
		location = time.Local
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{finder: finder, publisher: publisher, location: location, now: now}
}

// Snapshot queries today's waiting and in-service tickets.
func (c *Coordinator) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return ReadSnapshot(ctx, c.finder, models.DayOf(c.now().In(c.location)))
}

// ReadSnapshot builds the live view of day, querying both states
// concurrently.
func ReadSnapshot(ctx context.Context, finder ViewFinder, day models.Day) (models.Snapshot, error) {
	snapshot := models.Snapshot{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tickets, err := finder.FindByDay(gctx, day, models.StateWaiting)
		snapshot.Waiting = tickets
		return err
	})
	g.Go(func() error {
		tickets, err := finder.FindByDay(gctx, day, models.StateInService)
		snapshot.InService = tickets
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Snapshot{}, err
	}
	if snapshot.Waiting == nil {
		snapshot.Waiting = []models.Ticket{}
	}
	if snapshot.InService == nil {
		snapshot.InService = []models.Ticket{}
	}
	return snapshot, nil
}

// OnMutation publishes a fresh snapshot to every subscriber. Failures are
// logged; the mutation that triggered it has already committed.
func (c *Coordinator) OnMutation(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, ok := c.encodeSnapshot(ctx)
	if !ok {
		return
	}
	c.publisher.Broadcast(payload)
	broadcastsTotal.Add(1)
}

// OnSubscriberJoin sends the current snapshot to the newly registered
// client only.
func (c *Coordinator) OnSubscriberJoin(ctx context.Context, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, ok := c.encodeSnapshot(ctx)
	if !ok {
		return
	}
	if !c.publisher.SendTo(clientID, payload) {
		log.Printf("snapshot target gone client=%s", clientID)
		return
	}
	broadcastsTotal.Add(1)
}

func (c *Coordinator) encodeSnapshot(ctx context.Context) ([]byte, bool) {
	// The caller's request may end before the snapshot is read.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		broadcastsFailed.Add(1)
		log.Printf("snapshot query error: %v", err)
		return nil, false
	}
	payload, err := json.Marshal(Envelope{Type: EventQueueUpdated, Payload: snapshot, CreatedAt: c.now().UTC()})
	if err != nil {
		broadcastsFailed.Add(1)
		log.Printf("snapshot encode error: %v", err)
		return nil, false
	}
	return payload, true
}
