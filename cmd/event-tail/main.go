// Command event-tail prints match events published to the Kafka topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/kafka"
	"github.com/NotIan11/TechELO/internal/obslog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// printer writes each event as one line to stdout
type printer struct {
	user  string
	game  domain.GameKind
	raw   bool
	count atomic.Int64
}

func (p *printer) DeliverEvent(_ context.Context, event domain.MatchEvent) error {
	if p.game != "" && event.GameKind != p.game {
		return nil
	}
	if p.user != "" && event.ActorID != p.user && !contains(event.Recipients, p.user) {
		return nil
	}
	p.count.Add(1)

	if p.raw {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("%s  %-18s match=%s game=%s actor=%s to=%s status=%s\n",
		event.OccurredAt.Format("2006-01-02 15:04:05"),
		event.Type,
		event.MatchID,
		event.GameKind,
		event.ActorID,
		strings.Join(event.Recipients, ","),
		event.Status,
	)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "techelo-match-events", "Kafka topic")
	user := flag.String("user", "", "Only show events involving this user id")
	game := flag.String("game", "", "Only show events for this game type")
	raw := flag.Bool("json", false, "Print events as JSON")
	flag.Parse()

	logger := obslog.New(config.LogConfig{Level: "warn", Format: "console"})
	defer logger.Sync()

	p := &printer{user: *user, raw: *raw}
	if *game != "" {
		kind, err := domain.ParseGameKind(*game)
		if err != nil {
			logger.Fatal("invalid game filter", zap.Error(err))
		}
		p.game = kind
	}

	cfg := &config.KafkaConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
		Enabled: true,
	}
	consumer, err := kafka.NewConsumer(cfg, "techelo-tail-"+uuid.NewString()[:8], p, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	if err := consumer.Start(); err != nil {
		logger.Fatal("failed to start consumer", zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "tailing %s on %s (ctrl-c to stop)\n", *topic, *brokers)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := consumer.Stop(); err != nil {
		logger.Error("failed to stop consumer", zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "%d events\n", p.count.Load())
}
