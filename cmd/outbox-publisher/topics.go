package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// topicPublishers hands out one Pub/Sub publisher per topic, created on first
// use and reused for the life of the relay.
type topicPublishers struct {
	client  pubSubClient
	mu      sync.Mutex
	byTopic map[string]publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, byTopic: map[string]publisher{}}
}

// For returns nil when the client has no publisher for topic.
func (t *topicPublishers) For(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.byTopic[topic]; ok {
		return pub
	}
	raw := t.client.Publisher(topic)
	if raw == nil {
		return nil
	}
	pub := pubsubPublisher{topic: raw}
	t.byTopic[topic] = pub
	return pub
}

type pubsubPublisher struct {
	topic *gcppubsub.Publisher
}

func (p pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return pubsubResult{res: p.topic.Publish(ctx, msg)}
}

type pubsubResult struct {
	res *gcppubsub.PublishResult
}

func (r pubsubResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	return r.res.Get(ctx)
}
