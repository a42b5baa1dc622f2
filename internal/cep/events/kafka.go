package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"cepfinder/internal/cep/models"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaSink forwards every lookup event to a Kafka topic as JSON, keyed by CEP.
// Produce is asynchronous, so attaching the sink never slows a lookup down.
type KafkaSink struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

// Record is the wire shape of an exported event.
type Record struct {
	Event      Name            `json:"event"`
	CEP        string          `json:"cep"`
	Provider   string          `json:"provider,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	TimeoutMS  int64           `json:"timeout_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
	Address    *models.Address `json:"address,omitempty"`
	At         time.Time       `json:"at"`
}

// NewKafkaSink creates a sink producing to topic.
func NewKafkaSink(producer Producer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
		now:      time.Now,
	}
}

// Attach subscribes the sink to every topic. The returned func detaches it.
func (k *KafkaSink) Attach(em *Emitter) func() {
	subs := []Subscription{
		On(em, Success, func(e SuccessEvent) {
			addr := e.Address
			k.publish(Record{Event: NameSuccess, CEP: e.CEP, Provider: e.Provider, DurationMS: e.Duration.Milliseconds(), Address: &addr})
		}),
		On(em, Failure, func(e FailureEvent) {
			k.publish(Record{Event: NameFailure, CEP: e.CEP, Provider: e.Provider, DurationMS: e.Duration.Milliseconds(), Error: errString(e.Err)})
		}),
		On(em, Timeout, func(e TimeoutEvent) {
			k.publish(Record{Event: NameTimeout, CEP: e.CEP, Provider: e.Provider, DurationMS: e.Duration.Milliseconds(), TimeoutMS: e.Timeout.Milliseconds()})
		}),
		On(em, CacheHit, func(e CacheHitEvent) {
			k.publish(Record{Event: NameCacheHit, CEP: e.CEP})
		}),
	}
	return func() {
		for _, s := range subs {
			em.Off(s)
		}
	}
}

func (k *KafkaSink) publish(rec Record) {
	rec.At = k.now().UTC()
	value, err := json.Marshal(rec)
	if err != nil {
		k.logger.Error("failed to encode lookup event", "event", rec.Event, "error", err)
		return
	}

	k.producer.Produce(context.Background(), &kgo.Record{
		Topic:   k.topic,
		Key:     []byte(rec.CEP),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "event", Value: []byte(rec.Event)}},
	}, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Warn("failed to produce lookup event", "event", rec.Event, "cep", rec.CEP, "error", err)
		}
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
