package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"ready2publish/pkg/auth"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/queue"
)

// ContactForm is the contact page input.
type ContactForm struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (f *ContactForm) normalize() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = auth.NormalizeEmail(f.Email)
	f.Subject = strings.TrimSpace(f.Subject)
	f.Message = strings.TrimSpace(f.Message)
	switch {
	case utf8.RuneCountInString(f.Name) < 2:
		return domain.Invalid("name", "name must be at least 2 characters")
	case auth.ValidateEmail(f.Email) != nil:
		return domain.Invalid("email", "invalid email address")
	case utf8.RuneCountInString(f.Subject) < 5:
		return domain.Invalid("subject", "subject must be at least 5 characters")
	case utf8.RuneCountInString(f.Message) < 20:
		return domain.Invalid("message", "message must be at least 20 characters")
	}
	return nil
}

// SubmitContact stores the message and announces it on the contact queue.
// A failed publish is logged; the message is already saved.
func (a *App) SubmitContact(ctx context.Context, form ContactForm) (domain.ContactMessage, error) {
	if err := form.normalize(); err != nil {
		return domain.ContactMessage{}, err
	}
	msg, err := a.store.SaveContactMessage(ctx, domain.ContactMessage{
		Name:    form.Name,
		Email:   form.Email,
		Subject: form.Subject,
		Message: form.Message,
		Status:  domain.ContactNew,
	})
	if err != nil {
		return domain.ContactMessage{}, domain.Remote("save contact message", err)
	}
	if _, err := queue.Emit(ctx, a.publisher, queue.ContactReceived, msg); err != nil {
		a.logger.Warn("publish contact message failed", "contact_id", msg.ID, "err", err)
	}
	return msg, nil
}
