package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on mailbox changes.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// TriggerFunc runs a triage pass for the account registered under the given
// address.
type TriggerFunc func(ctx context.Context, accountID string) error

// Service subscribes to Gmail push notifications over Pub/Sub and triggers
// a triage pass for the matching account. Duplicate notifications carrying
// an already-seen historyId are dropped.
type Service struct {
	pubsubClient *pubsub.Client
	trigger      TriggerFunc
	log          *zap.Logger
	topicName    string
	subName      string

	mu sync.Mutex
	// accounts maps the mailbox address in the notification onto a
	// configured account ID.
	accounts      map[string]string
	lastHistoryID map[string]uint64
}

// NewService creates the Pub/Sub listener. accounts maps mailbox addresses
// to account IDs; credentialsFile may be empty to use ambient credentials.
func NewService(projectID, topicName, credentialsFile string, accounts map[string]string, trigger TriggerFunc, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(context.Background(), projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient:  client,
		trigger:       trigger,
		log:           log,
		topicName:     topicName,
		subName:       topicName + "-sub",
		accounts:      accounts,
		lastHistoryID: make(map[string]uint64),
	}, nil
}

// Start ensures the subscription exists and blocks receiving notifications
// until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("starting notification listener",
		zap.String("topic", s.topicName),
		zap.String("subscription", s.subName))

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription: %w", err)
	}
	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check topic: %w", err)
		}
		if !topicExists {
			return fmt.Errorf("topic %s does not exist", s.topicName)
		}
		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		s.log.Info("created subscription", zap.String("subscription", s.subName))
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive failed: %w", err)
	}
	return nil
}

// Close releases the Pub/Sub client.
func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var n GmailNotification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		s.log.Warn("failed to unmarshal notification", zap.Error(err))
		return
	}

	s.mu.Lock()
	accountID, ok := s.accounts[n.EmailAddress]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("notification for unconfigured mailbox", zap.String("address", n.EmailAddress))
		return
	}
	if last, seen := s.lastHistoryID[accountID]; seen && n.HistoryID <= last {
		s.mu.Unlock()
		s.log.Debug("duplicate notification dropped",
			zap.String("account", accountID),
			zap.Uint64("history_id", n.HistoryID))
		return
	}
	s.lastHistoryID[accountID] = n.HistoryID
	s.mu.Unlock()

	s.log.Info("mailbox changed, triggering triage",
		zap.String("account", accountID),
		zap.Uint64("history_id", n.HistoryID))
	if err := s.trigger(ctx, accountID); err != nil {
		s.log.Error("triggered triage failed", zap.String("account", accountID), zap.Error(err))
	}
}
