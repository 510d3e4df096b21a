// Package events は生成結果のイベントを Kafka に発行します。
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// GenerationEvent は1回の生成またはエクスポートの結果です。
type GenerationEvent struct {
	ID           string    `json:"id"`
	BoardID      string    `json:"boardId"`
	Op           string    `json:"op"`
	Success      bool      `json:"success"`
	Kind         string    `json:"kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	Strategy     string    `json:"strategy,omitempty"`
	CustomPrompt bool      `json:"customPrompt"`
	DurationMS   int64     `json:"durationMs"`
	At           time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev GenerationEvent) error
	Close() error
}

// messageWriter は *kafka.Writer が満たします。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher はブローカーに接続できればトピックを作成して Kafka 発行者を返します。
// 接続できない場合はログに出力するだけの発行者を返します。
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		logrus.Warn("Kafka brokers are not configured, using log publisher")
		return NewLogPublisher()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		logrus.WithError(err).WithField("brokers", brokers).Warn("Kafka connection failed, using log publisher instead")
		return NewLogPublisher()
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Info("Could not create topic (might already exist)")
	}

	logrus.WithFields(logrus.Fields{"brokers": brokers, "topic": topic}).Info("Connected to Kafka")
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	})
}

func newKafkaPublisher(w messageWriter) *kafkaPublisher {
	return &kafkaPublisher{writer: w, timeout: 10 * time.Second}
}

// Publish はボードIDをキーにしてイベントを書き込みます。
func (p *kafkaPublisher) Publish(ctx context.Context, ev GenerationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.BoardID),
		Value: value,
		Time:  ev.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logrus.WithError(err).WithField("event_id", ev.ID).Error("Failed to write event to Kafka")
		return err
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// logPublisher は Kafka が使えない環境でイベントをログに出力します。
type logPublisher struct{}

func NewLogPublisher() Publisher {
	return logPublisher{}
}

func (logPublisher) Publish(_ context.Context, ev GenerationEvent) error {
	logrus.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"board_id": ev.BoardID,
		"op":       ev.Op,
		"success":  ev.Success,
		"kind":     ev.Kind,
	}).Debug("generation event")
	return nil
}

func (logPublisher) Close() error {
	return nil
}

// NopPublisher は何もしない発行者です。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, GenerationEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
