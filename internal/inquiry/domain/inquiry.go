package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

// Placeholders written over personal data when an inquiry's history is
// collapsed. The mail placeholder stays a syntactically valid address so
// downstream consumers keep working.
const (
	AnonymizedMail = "anonymized@kicherkrabbe.com"
	AnonymizedText = "ANONYMIZED"
)

var (
	ErrMailInvalid    = errors.New("inquiry mail address is invalid")
	ErrSubjectMissing = errors.New("inquiry subject must not be empty")
	ErrMessageMissing = errors.New("inquiry message must not be empty")
	ErrAlreadySent    = errors.New("inquiry is already sent")
	ErrNotSent        = errors.New("inquiry does not exist yet")
	ErrAlreadyDeleted = errors.New("inquiry is already deleted")
)

// Inquiry is the folded state of one inquiry aggregate. Once anonymized
// it is terminal; no command is accepted anymore.
type Inquiry struct {
	Mail       string
	Subject    string
	Message    string
	SentAt     time.Time
	DeletedAt  *time.Time
	Anonymized bool
}

func NewInquiry() *Inquiry {
	return &Inquiry{}
}

func (i *Inquiry) HandleCommand(cmd es.Command, agent es.Agent) ([]es.Event, error) {
	switch cmd := cmd.(type) {
	case SendCmd:
		if !i.SentAt.IsZero() {
			return nil, ErrAlreadySent
		}
		if !strings.Contains(cmd.Mail, "@") {
			return nil, ErrMailInvalid
		}
		if cmd.Subject == "" {
			return nil, ErrSubjectMissing
		}
		if cmd.Message == "" {
			return nil, ErrMessageMissing
		}
		return []es.Event{SentEvent{Mail: cmd.Mail, Subject: cmd.Subject, Message: cmd.Message}}, nil
	case DeleteCmd:
		if i.SentAt.IsZero() {
			return nil, ErrNotSent
		}
		if i.Removed() {
			return nil, ErrAlreadyDeleted
		}
		return []es.Event{DeletedEvent{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", es.ErrUnknownCommand, cmd.CommandName())
	}
}

func (i *Inquiry) ApplyEvent(event es.Event, metadata es.EventMetadata) error {
	switch event := event.(type) {
	case SentEvent:
		i.Mail = event.Mail
		i.Subject = event.Subject
		i.Message = event.Message
		i.SentAt = metadata.OccurredAt
	case DeletedEvent:
		deletedAt := metadata.OccurredAt
		i.DeletedAt = &deletedAt
	default:
		return fmt.Errorf("%w: %s", es.ErrUnknownEvent, event.EventName())
	}
	return nil
}

func (i *Inquiry) Snapshot() es.Document {
	snapshot := es.Document{
		"mail":       i.Mail,
		"subject":    i.Subject,
		"message":    i.Message,
		"sentAt":     i.SentAt,
		"anonymized": i.Anonymized,
	}
	if i.DeletedAt != nil {
		snapshot["deletedAt"] = *i.DeletedAt
	}
	return snapshot
}

func (i *Inquiry) RestoreSnapshot(payload es.Document, metadata es.EventMetadata) error {
	i.Mail = payload.String("mail")
	i.Subject = payload.String("subject")
	i.Message = payload.String("message")
	i.SentAt = payload.Time("sentAt")
	i.Anonymized = payload.Bool("anonymized")
	i.DeletedAt = nil
	if payload.Has("deletedAt") {
		deletedAt := payload.Time("deletedAt")
		i.DeletedAt = &deletedAt
	}
	return nil
}

// AnonymizedSnapshot replaces every personal field with its placeholder
// and marks the state removed.
func (i *Inquiry) AnonymizedSnapshot() es.Document {
	snapshot := i.Snapshot()
	snapshot["mail"] = AnonymizedMail
	snapshot["subject"] = AnonymizedText
	snapshot["message"] = AnonymizedText
	snapshot["anonymized"] = true
	return snapshot
}

func (i *Inquiry) Removed() bool {
	return i.DeletedAt != nil || i.Anonymized
}

var _ es.State = (*Inquiry)(nil)
