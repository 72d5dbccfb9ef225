package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"go.uber.org/zap"
)

// EventHandler receives match events read from the topic
type EventHandler interface {
	DeliverEvent(ctx context.Context, event domain.MatchEvent) error
}

// Consumer consumes match events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *zap.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer.
// groupID overrides the configured group when non-empty.
func NewConsumer(cfg *config.KafkaConfig, groupID string, handler EventHandler, logger *zap.Logger) (*Consumer, error) {
	if groupID == "" {
		groupID = cfg.GroupID
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger.With(zap.String("group_id", groupID)),
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		zap.Strings("brokers", c.config.Brokers),
		zap.String("topic", c.config.Topic),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", zap.Error(err))
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage decodes one record and hands it to the handler.
// Malformed records are logged and skipped.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var event domain.MatchEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		c.logger.Warn("failed to unmarshal message",
			zap.Error(err),
			zap.Int64("offset", message.Offset),
			zap.Int32("partition", message.Partition),
		)
		return
	}

	if event.Type == "" || event.MatchID == "" || len(event.Recipients) == 0 {
		c.logger.Warn("invalid match event",
			zap.String("type", string(event.Type)),
			zap.String("match_id", event.MatchID),
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.handler.DeliverEvent(ctx, event); err != nil {
		c.logger.Error("failed to deliver event",
			zap.String("type", string(event.Type)),
			zap.String("match_id", event.MatchID),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("delivered event", zap.String("type", string(event.Type)), zap.String("match_id", event.MatchID))
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}
