package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink hands an intent to the external delivery collaborator.
type Sink interface {
	Name() string
	Send(ctx context.Context, intent Intent) error
}

type LogSink struct {
	Logger logrus.FieldLogger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, intent Intent) error {
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"kind":      intent.Kind,
		"channel":   intent.ChannelHint,
		"recipient": intent.Recipient,
	}).Info(intent.Message)
	return nil
}

type WebhookSink struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewWebhookSink(url, token string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{URL: url, Token: token, Client: &http.Client{Timeout: timeout}}
}

func (*WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, intent Intent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected intent: status %d", resp.StatusCode)
	}
	return nil
}

// RedisSink publishes each intent as JSON on a pub/sub channel.
type RedisSink struct {
	Client  redis.UniversalClient
	Channel string
}

func (*RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, s.Channel, data).Err()
}

// StreamSink appends intents to a watermill topic so consumers can replay
// them.
type StreamSink struct {
	Publisher message.Publisher
	Topic     string
}

func (*StreamSink) Name() string { return "stream" }

func (s *StreamSink) Send(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("kind", intent.Kind)
	msg.Metadata.Set("channel_hint", intent.ChannelHint)
	msg.SetContext(ctx)
	return s.Publisher.Publish(s.Topic, msg)
}
