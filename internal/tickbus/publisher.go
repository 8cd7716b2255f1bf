// Package tickbus mirrors stored ticks onto a Kafka topic for downstream consumers.
package tickbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"autokite/internal/interfaces"
	"autokite/internal/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per tick, keyed by instrument token so a
// partition sees one instrument's ticks in order.
type Publisher struct {
	writer messageWriter
}

var _ interfaces.TickPublisher = (*Publisher)(nil)

type tickMessage struct {
	InstrumentToken uint32    `json:"instrument_token"`
	Timestamp       time.Time `json:"timestamp"`
	LastPrice       float64   `json:"last_price"`
	Volume          int64     `json:"volume"`
	LastQuantity    int64     `json:"last_quantity"`
	AveragePrice    float64   `json:"average_price"`
	BuyQuantity     int64     `json:"buy_quantity"`
	SellQuantity    int64     `json:"sell_quantity"`
	OI              int64     `json:"oi"`
	Open            float64   `json:"open"`
	High            float64   `json:"high"`
	Low             float64   `json:"low"`
	Close           float64   `json:"close"`
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
	}}, nil
}

func (p *Publisher) Publish(ctx context.Context, ticks []types.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(ticks))
	for _, t := range ticks {
		v, err := json.Marshal(tickMessage(t))
		if err != nil {
			return fmt.Errorf("marshal tick: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(t.InstrumentToken), 10)),
			Value: v,
			Time:  t.Timestamp,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
