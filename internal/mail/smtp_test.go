package mail

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMsgRendersAttachment(t *testing.T) {
	msg, err := buildMsg(Message{
		To:          "caller@example.dk",
		From:        "no-reply@mbu.aarhus.dk",
		Subject:     "Sagsnummer: RITM1 | Eksporteret billedmateriale fra Romexis 1/2",
		HTMLBody:    "<p>Kære Anne</p>",
		Attachments: []Attachment{{FileName: "1234567890_Anne_del1.zip", Data: []byte("PK\x03\x04")}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "caller@example.dk")
	assert.Contains(t, raw, "1234567890_Anne_del1.zip")
	assert.True(t, strings.Contains(raw, "text/html"))
}

func TestBuildMsgRejectsIncompleteMessages(t *testing.T) {
	_, err := buildMsg(Message{From: "a@b.dk", Subject: "s"})
	assert.Error(t, err)

	_, err = buildMsg(Message{To: "not an address", From: "a@b.dk", Subject: "s"})
	assert.Error(t, err)

	_, err = buildMsg(Message{To: "c@d.dk", From: "a@b.dk", Subject: "s", Attachments: []Attachment{{Data: []byte("x")}}})
	assert.Error(t, err)
}

func TestNewSMTPMailerDefaults(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{})
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Server: "smtp.internal"})
	require.NoError(t, err)
	assert.Equal(t, 25, m.config.Port)
}
