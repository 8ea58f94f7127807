package redisx

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var relayPublishErrors = expvar.NewInt("relay_publish_errors_total")

type mutationMsg struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
	TsUnix   int64  `json:"ts_unix"`
}

// MutationRelay fans queue mutations out to the other replicas so each
// one refreshes its own subscribers.
type MutationRelay struct {
	rdb      *redis.Client
	channel  string
	instance string
}

func NewMutationRelay(rdb *redis.Client, instance string) *MutationRelay {
	return &MutationRelay{rdb: rdb, channel: ChannelQueueMutations(), instance: instance}
}

func (r *MutationRelay) Publish(ctx context.Context) error {
	b, err := json.Marshal(mutationMsg{Type: "queue.mutated", Instance: r.instance, TsUnix: time.Now().Unix()})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

// OnMutation publishes the mutation; a failed publish only delays the
// other replicas until their next local mutation.
func (r *MutationRelay) OnMutation(ctx context.Context) {
	if err := r.Publish(context.WithoutCancel(ctx)); err != nil {
		relayPublishErrors.Add(1)
		log.Printf("relay publish error instance=%s: %v", r.instance, err)
	}
}

// Subscribe calls handler for every mutation published by another
// instance until ctx is done.
func (r *MutationRelay) Subscribe(ctx context.Context, handler func(ctx context.Context)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg mutationMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("relay drop malformed message: %v", err)
				continue
			}
			if msg.Instance == r.instance {
				continue
			}
			handler(ctx)
		}
	}
}
