package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

const (
	attrNamespace = "namespace"
	attrMarker    = "marker"
	attrOrigin    = "origin"
)

// PubSubPublisher publishes change events to a Pub/Sub topic so other instances can wake
// their watchers. The payload is empty: the marker travels as an attribute.
type PubSubPublisher struct {
	topic  *pubsub.Topic
	origin string
}

// NewPubSubPublisher constructs a publisher tagging messages with origin (the instance id).
func NewPubSubPublisher(topic *pubsub.Topic, origin string) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("changefeed publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic, origin: strings.TrimSpace(origin)}, nil
}

// Publish implements Publisher and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("changefeed publisher: not initialised")
	}
	attrs := map[string]string{
		attrNamespace: event.Namespace,
		attrMarker:    event.Marker.String(),
	}
	if p.origin != "" {
		attrs[attrOrigin] = p.origin
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: []byte{}, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Relay receives change events from a subscription and republishes them locally.
// Messages carrying this instance's origin are acknowledged and dropped.
type Relay struct {
	sub    *pubsub.Subscription
	local  Publisher
	origin string
}

// NewRelay constructs a relay from sub into local.
func NewRelay(sub *pubsub.Subscription, local Publisher, origin string) (*Relay, error) {
	if sub == nil || local == nil {
		return nil, errors.New("changefeed relay: subscription and local publisher are required")
	}
	return &Relay{sub: sub, local: local, origin: strings.TrimSpace(origin)}, nil
}

// Run blocks receiving messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	err := r.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		event, ok := decodeEvent(msg.Attributes)
		if !ok {
			return
		}
		if r.origin != "" && msg.Attributes[attrOrigin] == r.origin {
			return
		}
		_ = r.local.Publish(ctx, event)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("changefeed relay: %w", err)
	}
	return nil
}

func decodeEvent(attrs map[string]string) (domain.ChangeEvent, bool) {
	namespace := strings.TrimSpace(attrs[attrNamespace])
	marker := domain.ParseChangeMarker(attrs[attrMarker])
	if namespace == "" || marker == 0 {
		return domain.ChangeEvent{}, false
	}
	return domain.ChangeEvent{Namespace: namespace, Marker: marker}, true
}
