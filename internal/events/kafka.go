package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by the sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON, keyed by account so one account's events stay ordered.
type Kafka struct {
	w     MessageWriter
	topic string
	log   *zap.Logger
}

// NewKafkaWriter builds a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafka constructs a sink over w.
func NewKafka(w MessageWriter, topic string, log *zap.Logger) *Kafka {
	return &Kafka{
		w:     w,
		topic: topic,
		log:   log.With(zap.String("component", "kafka.producer"), zap.String("topic", topic)),
	}
}

// Emit implements Sink. Delivery failures are logged and dropped.
func (k *Kafka) Emit(ctx context.Context, e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		k.log.Error("event marshal failed", zap.Error(err))
		return
	}

	ctx, span := otel.Tracer("session.events").Start(ctx, "kafka.produce "+k.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", k.topic),
			attribute.String("session.event", string(e.Kind)),
		),
	)
	defer span.End()

	hdrs := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, hdrs)

	msg := kafka.Message{
		Key:     []byte(e.AccountID.String()),
		Value:   value,
		Headers: hdrs.toKafka(),
		Time:    e.At,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		k.log.Error("kafka write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	k.log.Debug("event published", zap.String("kind", string(e.Kind)), zap.Int("value_len", len(value)))
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }

type headerCarrier map[string]string

func (h headerCarrier) Get(k string) string { return h[k] }
func (h headerCarrier) Set(k, v string)     { h[k] = v }
func (h headerCarrier) Keys() []string {
	ks := make([]string, 0, len(h))
	for k := range h {
		ks = append(ks, k)
	}
	return ks
}

func (h headerCarrier) toKafka() []kafka.Header {
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
