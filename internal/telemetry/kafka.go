package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// KafkaConfig selects brokers and per-measurement topics
type KafkaConfig struct {
	Brokers           []string
	DemographicsTopic string
	AdDataTopic       string
}

// Kafka publishes events as protobuf Structs keyed by measurement
type Kafka struct {
	writers map[string]*kafka.Writer
}

// NewKafka builds one writer per topic; no connection is made until the first write
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	topics := map[string]string{
		types.MeasurementDemographics: cfg.DemographicsTopic,
		types.MeasurementAdData:       cfg.AdDataTopic,
	}
	k := &Kafka{writers: make(map[string]*kafka.Writer, len(topics))}
	for m, topic := range topics {
		if topic == "" {
			return nil, fmt.Errorf("kafka: no topic for %s", m)
		}
		k.writers[m] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return k, nil
}

// message encodes e for the bus
func message(e types.Event) (kafka.Message, error) {
	b, err := e.MarshalProto()
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{{Key: "content-type", Value: []byte("application/x-protobuf")}}
	for k, v := range e.Tags {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{Key: []byte(e.Measurement), Value: b, Time: e.Time, Headers: headers}, nil
}

func (k *Kafka) Write(ctx context.Context, e types.Event) error {
	w, ok := k.writers[e.Measurement]
	if !ok {
		return fmt.Errorf("kafka: unknown measurement %q", e.Measurement)
	}
	msg, err := message(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Measurement, err)
	}
	return w.WriteMessages(ctx, msg)
}

func (k *Kafka) Close() error {
	var errs []error
	for _, w := range k.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
