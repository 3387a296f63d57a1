package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"mailtriage/internal/triage/domain"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is invoked whenever the oauth2 layer mints a new access
// token, so the caller can persist it.
type TokenUpdateFunc func(*oauth2.Token) error

// Config holds the credentials and tokens for one Gmail account.
type Config struct {
	ClientID       string
	ClientSecret   string
	AccessToken    string
	RefreshToken   string
	OnTokenRefresh TokenUpdateFunc
}

// Service talks to one Gmail mailbox through the Gmail REST API. It
// implements domain.MailProvider.
type Service struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	srv    *gmail.Service
	labels map[string]string // name -> label ID
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			fmt.Printf("Failed to update token: %v\n", err)
		}
	}
	return t, nil
}

// NewService creates a Gmail-backed mail provider.
func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, log: log, labels: make(map[string]string)}
}

func (s *Service) service(ctx context.Context) (*gmail.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.srv, nil
	}

	token := &oauth2.Token{
		AccessToken:  s.cfg.AccessToken,
		RefreshToken: s.cfg.RefreshToken,
		TokenType:    "Bearer",
	}
	if s.cfg.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: s.cfg.OnTokenRefresh,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, wrapped)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", classify(err))
	}
	s.srv = srv
	return srv, nil
}

// FetchBatch returns up to limit inbox messages whose ledger key is not in
// exclude. Message details are fetched in parallel.
func (s *Service) FetchBatch(ctx context.Context, mailbox string, exclude map[string]bool, limit int) ([]domain.Message, error) {
	srv, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	user := "me"
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if limit <= 0 {
		limit = 25
	}

	listQuery := srv.Users.Messages.List(user).
		LabelIds(strings.ToUpper(mailbox)).
		MaxResults(int64(limit) * 2) // overfetch to cover excluded messages
	resp, err := listQuery.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve messages: %w", classify(err))
	}

	type fetchResult struct {
		msg *domain.Message
		err error
	}
	results := make(chan fetchResult, len(resp.Messages))
	semaphore := make(chan struct{}, 10)

	for _, m := range resp.Messages {
		go func(id string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			full, err := srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
			if err != nil {
				results <- fetchResult{nil, classify(err)}
				return
			}
			msg := convertMessage(full)
			results <- fetchResult{&msg, nil}
		}(m.Id)
	}

	fetched := make([]domain.Message, 0, len(resp.Messages))
	for range resp.Messages {
		r := <-results
		if r.err != nil {
			s.log.Warn("failed to fetch message", zap.Error(r.err))
			continue
		}
		fetched = append(fetched, *r.msg)
	}

	messages := make([]domain.Message, 0, limit)
	for _, m := range fetched {
		if exclude[domain.MessageKey(m.UID)] {
			continue
		}
		if m.ThreadID != "" && exclude[domain.ThreadKey(m.ThreadID)] {
			continue
		}
		messages = append(messages, m)
		if len(messages) >= limit {
			break
		}
	}
	return messages, nil
}

// ApplyLabel tags a message, creating the label on first use.
func (s *Service) ApplyLabel(ctx context.Context, uid, label string) error {
	srv, err := s.service(ctx)
	if err != nil {
		return err
	}
	id, err := s.labelID(ctx, label, true)
	if err != nil {
		return err
	}
	_, err = srv.Users.Messages.Modify("me", uid, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{id},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to apply label %q: %w", label, classify(err))
	}
	return nil
}

// RemoveLabel removes a label from a message. A missing label is not an
// error.
func (s *Service) RemoveLabel(ctx context.Context, uid, label string) error {
	srv, err := s.service(ctx)
	if err != nil {
		return err
	}
	id, err := s.labelID(ctx, label, false)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err = srv.Users.Messages.Modify("me", uid, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{id},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to remove label %q: %w", label, classify(err))
	}
	return nil
}

// EnsureLabel creates the label if it does not exist yet.
func (s *Service) EnsureLabel(ctx context.Context, label string) error {
	_, err := s.labelID(ctx, label, true)
	return err
}

// labelID resolves a label name to its Gmail ID, optionally creating it.
// System labels (INBOX, STARRED, ...) resolve to themselves.
func (s *Service) labelID(ctx context.Context, name string, create bool) (string, error) {
	if name == strings.ToUpper(name) {
		return name, nil
	}

	s.mu.Lock()
	if id, ok := s.labels[name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	srv, err := s.service(ctx)
	if err != nil {
		return "", err
	}
	resp, err := srv.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve labels: %w", classify(err))
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, name) {
			s.cacheLabel(name, l.Id)
			return l.Id, nil
		}
	}
	if !create {
		return "", nil
	}

	created, err := srv.Users.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create label %q: %w", name, classify(err))
	}
	s.log.Info("created label", zap.String("label", name), zap.String("id", created.Id))
	s.cacheLabel(name, created.Id)
	return created.Id, nil
}

func (s *Service) cacheLabel(name, id string) {
	s.mu.Lock()
	s.labels[name] = id
	s.mu.Unlock()
}

// classify maps API failures onto the error taxonomy the caller retries on.
// Rate limits and server-side failures are transient; auth and request
// errors are not worth retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		default:
			return fmt.Errorf("%w: %v", domain.ErrFatalProvider, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}

func convertMessage(msg *gmail.Message) domain.Message {
	body, isHTML := messageBody(msg.Payload)
	if isHTML {
		body = stripHTML(body)
	}

	return domain.Message{
		UID:      msg.Id,
		ThreadID: msg.ThreadId,
		Sender:   getHeader(msg.Payload.Headers, "From"),
		Subject:  getHeader(msg.Payload.Headers, "Subject"),
		Date:     time.Unix(msg.InternalDate/1000, 0),
		Size:     msg.SizeEstimate,
		Starred:  hasLabel(msg.LabelIds, "STARRED"),
		Body:     body,
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

func messageBody(payload *gmail.MessagePart) (string, bool) {
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/plain" && plainBody == "" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						plainBody = string(data)
					}
				}
			} else if part.MimeType == "text/html" && htmlBody == "" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						htmlBody = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, true
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripHTML(body string) string {
	body = tagRe.ReplaceAllString(body, " ")
	body = strings.ReplaceAll(body, "&nbsp;", " ")
	body = strings.ReplaceAll(body, "&lt;", "<")
	body = strings.ReplaceAll(body, "&gt;", ">")
	body = strings.ReplaceAll(body, "&amp;", "&")
	body = strings.ReplaceAll(body, "&quot;", "\"")
	return strings.Join(strings.Fields(body), " ")
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
