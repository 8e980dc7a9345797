package finality

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Gossip publishes and receives finality-signature Triples over a single,
// narrowly scoped libp2p-pubsub topic — per spec.md §4.D's "gossips a
// (blockHash, proTxHash, signature) triple", and per DESIGN.md's ambient
// stack decision to keep this a single finality-signature topic rather
// than a general-purpose P2P transport.
type Gossip struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewGossip joins and subscribes to the given topic on an already-running
// pubsub router.
func NewGossip(ctx context.Context, ps *pubsub.PubSub, topicName string) (*Gossip, error) {
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("join finality topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe finality topic: %w", err)
	}
	return &Gossip{topic: topic, sub: sub}, nil
}

// Publish gossips a finality-signature triple to the topic.
func (g *Gossip) Publish(ctx context.Context, t Triple) error {
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encode finality triple: %w", err)
	}
	return g.topic.Publish(ctx, data)
}

// Next blocks until the next finality-signature triple arrives from a peer
// (including, depending on pubsub configuration, ones this node itself
// published).
func (g *Gossip) Next(ctx context.Context) (Triple, error) {
	msg, err := g.sub.Next(ctx)
	if err != nil {
		return Triple{}, fmt.Errorf("next finality message: %w", err)
	}
	return DecodeTriple(msg.Data)
}

// Close tears down the subscription and leaves the topic.
func (g *Gossip) Close() error {
	g.sub.Cancel()
	return g.topic.Close()
}
