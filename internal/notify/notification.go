package notify

import "github.com/google/uuid"

type Template string

const (
	TemplateSignatureRequested  Template = "signature_requested"
	TemplateDocumentFullySigned Template = "document_fully_signed"
	TemplateDocumentRejected    Template = "document_rejected"
	TemplateDocumentExpired     Template = "document_expired"
	TemplateSigningReopened     Template = "signing_reopened"
)

// Notification is one best-effort message to one recipient.
type Notification struct {
	ID              string            `json:"id"`
	RecipientID     uint              `json:"recipient_id"`
	RecipientOpenID string            `json:"-"`
	RecipientName   string            `json:"recipient_name"`
	Template        Template          `json:"template"`
	Context         map[string]string `json:"context"`
}

func New(recipientID uint, openID, name string, tpl Template, ctx map[string]string) Notification {
	return Notification{
		ID:              uuid.NewString(),
		RecipientID:     recipientID,
		RecipientOpenID: openID,
		RecipientName:   name,
		Template:        tpl,
		Context:         ctx,
	}
}
