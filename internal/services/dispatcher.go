package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"github.com/dustin/go-humanize"

	"github.com/Lllllllleong/imageexportflow/internal/mail"
	"github.com/Lllllllleong/imageexportflow/internal/models"
)

const stageDispatch = "dispatch"

// DefaultSenderAddress is the fixed sender of every export email.
const DefaultSenderAddress = "no-reply@mbu.aarhus.dk"

const defaultSubjectTemplate = `Sagsnummer: {{.CaseRef}} | Eksporteret billedmateriale fra Romexis{{if gt .TotalParts 1}} {{.Part}}/{{.TotalParts}}{{end}}`

const bodyIntro = `<p>Kære {{.CallerName}}</p><p>Her er vedhæftet det bestilte billedmateriale.<br>Hvis du ikke skal bruge alle billederne, gør følgende:<br>• Gem ZIP-mappen med billederne<br>• Åbn zip-mappen i Stifinder og slet de billeder, som du ikke skal bruge<br><br>Husk at slette denne mail når materialet er anvendt. Senest efter 30 dage.<br><br>`

const defaultSingleBody = bodyIntro + `Venlig hilsen<br>Robotten</p>`

const defaultMultiBody = bodyIntro + `<span style="color: red;">BEMÆRK:<br>Normalt sendes alt billedmateriale i en mail.<br>I denne bestilling er billedmaterialet så omfattende, at det sendes i flere mails.<br>I mailens overskrift kan du se, hvor mange mails, der fremsendes. Fx står der 1/2 og 2/2.<br></span><br>Venlig hilsen<br>Robotten</p>`

// DefaultMessageTemplates returns the standard Danish wording.
func DefaultMessageTemplates() models.MessageTemplates {
	return models.MessageTemplates{
		Subject:    defaultSubjectTemplate,
		SingleBody: defaultSingleBody,
		MultiBody:  defaultMultiBody,
	}
}

type compiledTemplates struct {
	subject *texttemplate.Template
	single  *htmltemplate.Template
	multi   *htmltemplate.Template
}

func compileTemplates(t models.MessageTemplates) (*compiledTemplates, error) {
	subject, err := texttemplate.New("subject").Option("missingkey=error").Parse(t.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	single, err := htmltemplate.New("single").Parse(t.SingleBody)
	if err != nil {
		return nil, fmt.Errorf("parse single body template: %w", err)
	}
	multi, err := htmltemplate.New("multi").Parse(t.MultiBody)
	if err != nil {
		return nil, fmt.Errorf("parse multi body template: %w", err)
	}
	return &compiledTemplates{subject: subject, single: single, multi: multi}, nil
}

func (c *compiledTemplates) render(data models.MessageData) (subject, body string, err error) {
	var sb strings.Builder
	if err := c.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	tmpl := c.single
	if data.TotalParts > 1 {
		tmpl = c.multi
	}
	var bb bytes.Buffer
	if err := tmpl.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

// Dispatcher emails packaged archives to the requester, one email per part.
type Dispatcher struct {
	mailer    mail.Mailer
	sender    string
	templates models.MessageTemplates
}

// NewDispatcher returns a dispatcher sending from sender through mailer.
func NewDispatcher(mailer mail.Mailer, sender string) *Dispatcher {
	if strings.TrimSpace(sender) == "" {
		sender = DefaultSenderAddress
	}
	return &Dispatcher{mailer: mailer, sender: sender, templates: DefaultMessageTemplates()}
}

// ValidateDelivery checks that recipient, case reference and caller name
// are present.
func ValidateDelivery(req models.DeliveryRequest) error {
	var missing []string
	if strings.TrimSpace(req.Recipient) == "" {
		missing = append(missing, "recipient email")
	}
	if strings.TrimSpace(req.CaseRef) == "" {
		missing = append(missing, "case number")
	}
	if strings.TrimSpace(req.CallerName) == "" {
		missing = append(missing, "caller name")
	}
	if len(missing) > 0 {
		return Wrap(ErrInvalidDelivery, stageDispatch, "missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Dispatch sends one email for a single archive, or one email per part with
// an "i/n" subject suffix for a split archive. Each part is read from disk
// just before its send. The first failed send stops the dispatch; parts
// already sent stay sent.
func (d *Dispatcher) Dispatch(ctx context.Context, logCtx *slog.Logger, archive ArchiveDescriptor, req models.DeliveryRequest) error {
	if err := ValidateDelivery(req); err != nil {
		return err
	}
	if len(archive.Parts) == 0 {
		return Wrap(ErrInvalidDelivery, stageDispatch, "archive has no parts", nil)
	}

	templates := d.templates
	if req.Templates != nil {
		templates = *req.Templates
	}
	compiled, err := compileTemplates(templates)
	if err != nil {
		return Wrap(ErrInvalidDelivery, stageDispatch, "", err)
	}

	total := len(archive.Parts)
	for i, part := range archive.Parts {
		data := models.MessageData{
			CaseRef:    strings.TrimSpace(req.CaseRef),
			CallerName: strings.TrimSpace(req.CallerName),
			Part:       i + 1,
			TotalParts: total,
		}
		subject, body, err := compiled.render(data)
		if err != nil {
			return Wrap(ErrInvalidDelivery, stageDispatch, "", err)
		}

		content, err := os.ReadFile(part)
		if err != nil {
			return Wrap(ErrTransportFailed, stageDispatch, "read archive "+filepath.Base(part), err)
		}
		msg := mail.Message{
			To:          strings.TrimSpace(req.Recipient),
			From:        d.sender,
			Subject:     subject,
			HTMLBody:    body,
			Attachments: []mail.Attachment{{FileName: filepath.Base(part), Data: content}},
		}
		if err := msg.Validate(); err != nil {
			return Wrap(ErrInvalidDelivery, stageDispatch, "", err)
		}
		if err := d.mailer.Send(ctx, msg); err != nil {
			logCtx.Error("Email send failed.", "part", data.Part, "totalParts", total, "error", err)
			return Wrap(ErrTransportFailed, stageDispatch, fmt.Sprintf("send part %d/%d", data.Part, total), err)
		}
		logCtx.Info("Email sent.", "part", data.Part, "totalParts", total,
			"attachment", filepath.Base(part), "attachmentSize", humanize.Bytes(uint64(len(content))))
	}
	return nil
}
