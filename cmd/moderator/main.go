// Command moderator watches the room message feed and publishes a flag for
// every message the content filter objects to. It never blocks delivery.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/moderation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	natsConfig := messaging.DefaultNATSConfig()
	if cfg.NATSURL != "" {
		natsConfig.URL = cfg.NATSURL
	}
	natsConfig.Name = "roomchat-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}

	m := &moderator{
		filter: moderation.NewFilter(),
		pub:    natsClient,
		logger: logger,
		now:    time.Now,
	}
	if err := natsClient.SubscribeRooms(m.handle); err != nil {
		logger.Fatal("failed to subscribe to room feed", zap.Error(err))
	}

	logger.Info("moderation service running", zap.String("nats_url", natsConfig.URL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	natsClient.Close()
}

type moderator struct {
	filter *moderation.Filter
	pub    messaging.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// handle checks one Review from the room feed.
func (m *moderator) handle(subject string, data []byte) {
	var r moderation.Review
	if err := json.Unmarshal(data, &r); err != nil {
		m.logger.Warn("moderator: bad review payload", zap.String("subject", subject), zap.Error(err))
		return
	}

	flag, flagged := m.filter.Review(r, m.now())
	if !flagged {
		m.logger.Debug("moderator: clean", zap.Int64("message", r.MessageID), zap.String("room", r.Room))
		return
	}

	m.logger.Info("moderator: flagged",
		zap.Int64("message", flag.MessageID),
		zap.String("room", flag.Room),
		zap.String("sender", flag.SenderID),
		zap.String("reason", flag.Reason),
		zap.String("term", flag.Term),
	)

	payload, err := json.Marshal(flag)
	if err != nil {
		m.logger.Error("moderator: failed to marshal flag", zap.Error(err))
		return
	}
	if err := m.pub.Publish(messaging.FlagSubject(flag.Room), payload); err != nil {
		m.logger.Warn("moderator: failed to publish flag", zap.Error(err))
	}
}
