// Package mail is the outgoing mail boundary of the exporter.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attachment is one file attached to a message, held fully in memory.
type Attachment struct {
	FileName string
	Data     []byte
}

// Message is an HTML email with attachments.
type Message struct {
	To          string
	From        string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Validate reports the first missing field.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return errors.New("message has no recipient")
	case strings.TrimSpace(m.From) == "":
		return errors.New("message has no sender")
	case strings.TrimSpace(m.Subject) == "":
		return errors.New("message has no subject")
	}
	for i, a := range m.Attachments {
		if strings.TrimSpace(a.FileName) == "" {
			return fmt.Errorf("attachment %d has no file name", i)
		}
	}
	return nil
}

// Mailer sends messages. Implementations must not retry on their own.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
