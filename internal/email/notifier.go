package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/store"
)

type Recipient struct {
	Email string
	Name  string
}

// RecipientLookup resolves who hears about a record's outcome. ok is false
// when nobody should be mailed.
type RecipientLookup interface {
	Recipient(ctx context.Context, record lifecycle.Record) (r Recipient, ok bool, err error)
}

type userStore interface {
	GetUserByID(ctx context.Context, id int64) (store.User, error)
}

// OwnerRecipients mails the submitting user. Admin-created records have no
// recipient.
type OwnerRecipients struct {
	Users userStore
}

func (o OwnerRecipients) Recipient(ctx context.Context, record lifecycle.Record) (Recipient, bool, error) {
	if record.OwnerUserID == nil {
		return Recipient{}, false, nil
	}
	user, err := o.Users.GetUserByID(ctx, *record.OwnerUserID)
	if store.IsNotFound(err) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, fmt.Errorf("load submitter: %w", err)
	}
	if !user.IsActive || user.Email == "" {
		return Recipient{}, false, nil
	}
	return Recipient{Email: user.Email, Name: user.FullName}, true, nil
}

// Notifier implements lifecycle.Notifier with outcome e-mails. Sends are
// throttled to PerSecond messages.
type Notifier struct {
	mail       *Service
	recipients RecipientLookup
	registry   *lifecycle.Registry
	limiter    ratelimit.Limiter
	log        logrus.FieldLogger
}

type NotifierOptions struct {
	PerSecond int
	Logger    logrus.FieldLogger
}

var _ lifecycle.Notifier = (*Notifier)(nil)

func NewNotifier(mail *Service, recipients RecipientLookup, registry *lifecycle.Registry, opts NotifierOptions) *Notifier {
	limiter := ratelimit.NewUnlimited()
	if opts.PerSecond > 0 {
		limiter = ratelimit.New(opts.PerSecond)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Notifier{
		mail:       mail,
		recipients: recipients,
		registry:   registry,
		limiter:    limiter,
		log:        opts.Logger.WithField("component", "email"),
	}
}

func (n *Notifier) Notify(ctx context.Context, record lifecycle.Record, event lifecycle.Event) error {
	if !n.mail.IsConfigured() {
		n.log.WithFields(logrus.Fields{"entity": record.Entity, "record_id": record.ID}).Debug("email not configured, skipping notification")
		return nil
	}
	recipient, ok, err := n.recipients.Recipient(ctx, record)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := n.outcome(record, recipient)
	n.limiter.Take()
	switch event {
	case lifecycle.EventApproved:
		return n.mail.SendApprovalEmail(recipient.Email, data)
	case lifecycle.EventRejected:
		if data.Reason == "" {
			return errors.New("rejection notification without a reason")
		}
		return n.mail.SendRejectionEmail(recipient.Email, data)
	default:
		return fmt.Errorf("unknown notification event %q", event)
	}
}

func (n *Notifier) outcome(record lifecycle.Record, recipient Recipient) OutcomeData {
	data := OutcomeData{
		RecipientName: recipient.Name,
		EntityLabel:   strings.ReplaceAll(string(record.Entity), "_", " "),
		Title:         fmt.Sprintf("#%d", record.ID),
	}
	if cfg, ok := n.registry.Lookup(record.Entity); ok {
		if title := record.Title(cfg.TitleField); title != "" {
			data.Title = title
		}
		if cfg.PublicPath != "" && n.mail.config.SiteURL != "" {
			data.URL = fmt.Sprintf("%s%s/%d", strings.TrimRight(n.mail.config.SiteURL, "/"), cfg.PublicPath, record.ID)
		}
	}
	if record.RejectionReason != nil {
		data.Reason = *record.RejectionReason
	}
	if record.AdminComments != nil {
		data.Comments = *record.AdminComments
	}
	return data
}
