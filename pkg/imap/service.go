package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"mailtriage/internal/triage/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// Config holds the connection settings for one IMAP account.
type Config struct {
	Addr     string // host:port, TLS assumed
	Username string
	Password string
}

// Service talks to a generic IMAP mailbox. It implements
// domain.MailProvider: "labels" map onto folders, "starred" onto the
// \Flagged flag, and removing INBOX moves the message out via \Deleted plus
// expunge.
type Service struct {
	cfg Config
	log *zap.Logger

	mu   sync.Mutex
	conn *client.Client
}

// NewService creates an IMAP-backed mail provider.
func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) connect() (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := client.DialTLS(s.cfg.Addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial failed: %w", classify(err))
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: imap login failed: %v", domain.ErrFatalProvider, err)
	}
	s.conn = c
	return c, nil
}

// Close logs out and drops the connection.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Logout()
	s.conn = nil
	return err
}

// FetchBatch returns up to limit of the newest messages in the mailbox,
// skipping excluded ledger keys. Thread identity comes from the References
// header chain; messages with no references are unthreaded.
func (s *Service) FetchBatch(ctx context.Context, mailbox string, exclude map[string]bool, limit int) ([]domain.Message, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if limit <= 0 {
		limit = 25
	}

	mbox, err := c.Select(mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("imap select %q failed: %w", mailbox, classify(err))
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	// Newest first; overfetch to cover excluded messages.
	want := uint32(limit * 2)
	from := uint32(1)
	if mbox.Messages > want {
		from = mbox.Messages - want + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid,
		imap.FetchRFC822Size, section.FetchItem(),
	}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, ch)
	}()

	fetched := make([]domain.Message, 0, limit)
	for msg := range ch {
		if err := ctx.Err(); err != nil {
			for range ch {
			}
			<-done
			return nil, err
		}
		m := s.convert(msg, section)
		fetched = append(fetched, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch failed: %w", classify(err))
	}

	// Newest last in fetch order; reverse so newest come first.
	messages := make([]domain.Message, 0, limit)
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
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

func (s *Service) convert(msg *imap.Message, section *imap.BodySectionName) domain.Message {
	m := domain.Message{
		UID:     strconv.FormatUint(uint64(msg.Uid), 10),
		Size:    int64(msg.Size),
		Starred: hasFlag(msg.Flags, imap.FlaggedFlag),
	}
	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.Sender = env.From[0].Address()
		}
		if len(env.InReplyTo) > 0 {
			m.ThreadID = normalizeMessageID(env.InReplyTo)
		}
	}
	if body := msg.GetBody(section); body != nil {
		text, refs := readBody(body)
		m.Body = text
		if m.ThreadID == "" && refs != "" {
			m.ThreadID = refs
		}
	}
	return m
}

// readBody parses the raw message and returns the text body plus the root
// of the References chain, which stands in for a thread ID.
func readBody(r io.Reader) (string, string) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", ""
	}

	refs := ""
	if list, err := mr.Header.MsgIDList("References"); err == nil && len(list) > 0 {
		refs = list[0]
	}

	var text string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			data, err := io.ReadAll(part.Body)
			if err == nil && text == "" {
				text = string(data)
			}
		}
	}
	return strings.TrimSpace(text), refs
}

// ApplyLabel copies the message into the named folder.
func (s *Service) ApplyLabel(ctx context.Context, uid, label string) error {
	c, err := s.connect()
	if err != nil {
		return err
	}
	seqset, err := uidSet(uid)
	if err != nil {
		return err
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("imap select failed: %w", classify(err))
	}
	if err := c.UidCopy(seqset, label); err != nil {
		return fmt.Errorf("imap copy to %q failed: %w", label, classify(err))
	}
	return nil
}

// RemoveLabel for INBOX deletes the original message (the ApplyLabel copy
// survives); any other label is flag removal, which plain IMAP lacks, so it
// is a no-op.
func (s *Service) RemoveLabel(ctx context.Context, uid, label string) error {
	if !strings.EqualFold(label, "INBOX") {
		return nil
	}
	c, err := s.connect()
	if err != nil {
		return err
	}
	seqset, err := uidSet(uid)
	if err != nil {
		return err
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("imap select failed: %w", classify(err))
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("imap store failed: %w", classify(err))
	}
	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("imap expunge failed: %w", classify(err))
	}
	return nil
}

// EnsureLabel creates the folder if it does not exist.
func (s *Service) EnsureLabel(ctx context.Context, label string) error {
	c, err := s.connect()
	if err != nil {
		return err
	}

	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", label, mailboxes)
	}()
	exists := false
	for range mailboxes {
		exists = true
	}
	if err := <-done; err != nil {
		return fmt.Errorf("imap list failed: %w", classify(err))
	}
	if exists {
		return nil
	}
	if err := c.Create(label); err != nil {
		return fmt.Errorf("imap create %q failed: %w", label, classify(err))
	}
	s.log.Info("created folder", zap.String("folder", label))
	return nil
}

func uidSet(uid string) (*imap.SeqSet, error) {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad message uid %q", domain.ErrFatalProvider, uid)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(n))
	return seqset, nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func normalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// classify maps connection-level failures to the transient bucket so the
// caller's backoff applies; everything else is surfaced as fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporarily") || strings.Contains(msg, "try again") {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrFatalProvider, err)
}
