package whatsapp

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// wireAPIResponse is the provider's JSON envelope for a send/status call.
type wireAPIResponse struct {
	MessageID string         `json:"message_id"`
	Status    string         `json:"status"`
	Error     *wireAPIError  `json:"error,omitempty"`
}

type wireAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wireRecipient is the on-wire recipient addressing shape.
type wireRecipient struct {
	To   string `json:"to"`
	Type string `json:"recipient_type"`
}

func recipientOf(r models.Recipient) wireRecipient {
	t := "individual"
	if r.Kind == models.RecipientUserID {
		t = "user_id"
	}
	return wireRecipient{To: r.Identifier, Type: t}
}

// encodeOutbound renders any OutboundMessage variant into the provider's
// JSON wire format. Each variant distinguishes absence (field omitted) from
// null (explicit JSON null) where WhatsApp's own API draws that
// distinction -- media captions use omitempty (absence), while template
// component arrays use an explicit nil slice marshaled as null when no
// components are present, matching the provider's documented contract.
type wireText struct {
	Body string `json:"body"`
}

type wireLanguage struct {
	Code string `json:"code"`
}

type wireTemplate struct {
	Name       string                      `json:"name"`
	Language   wireLanguage                `json:"language"`
	Components []models.TemplateComponent `json:"components"`
}

type wireLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type wireReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type wireTextEnvelope struct {
	wireRecipient
	Type string    `json:"type"`
	Text wireText  `json:"text"`
}

type wireTemplateEnvelope struct {
	wireRecipient
	Type     string       `json:"type"`
	Template wireTemplate `json:"template"`
}

type wireLocationEnvelope struct {
	wireRecipient
	Type     string       `json:"type"`
	Location wireLocation `json:"location"`
}

type wireContactEnvelope struct {
	wireRecipient
	Type     string           `json:"type"`
	Contacts []models.Contact `json:"contacts"`
}

type wireReactionEnvelope struct {
	wireRecipient
	Type     string       `json:"type"`
	Reaction wireReaction `json:"reaction"`
}

func encodeOutbound(msg models.OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case models.TextMessage:
		return json.Marshal(wireTextEnvelope{
			wireRecipient: recipientOf(m.Recipient()),
			Type:          "text",
			Text:          wireText{Body: m.Body},
		})

	case models.MediaMessage:
		return encodeMedia(m)

	case models.TemplateMessage:
		return json.Marshal(wireTemplateEnvelope{
			wireRecipient: recipientOf(m.Recipient()),
			Type:          "template",
			Template: wireTemplate{
				Name:       m.Name,
				Language:   wireLanguage{Code: m.Language},
				Components: m.Components, // nil stays nil -> JSON null, not []
			},
		})

	case models.InteractiveMessage:
		return encodeInteractive(m)

	case models.LocationMessage:
		return json.Marshal(wireLocationEnvelope{
			wireRecipient: recipientOf(m.Recipient()),
			Type:          "location",
			Location: wireLocation{
				Latitude: m.Latitude, Longitude: m.Longitude, Name: m.Name, Address: m.Address,
			},
		})

	case models.ContactMessage:
		return json.Marshal(wireContactEnvelope{
			wireRecipient: recipientOf(m.Recipient()), Type: "contacts", Contacts: m.Contacts,
		})

	case models.ReactionMessage:
		return json.Marshal(wireReactionEnvelope{
			wireRecipient: recipientOf(m.Recipient()),
			Type:          "reaction",
			Reaction:      wireReaction{MessageID: m.ReferencedMessageID, Emoji: m.Emoji},
		})

	default:
		return nil, errors.Errorf("unsupported outbound message type %T", msg)
	}
}

func mediaTypeName(k models.MediaKind) string {
	switch k {
	case models.MediaImage:
		return "image"
	case models.MediaVideo:
		return "video"
	case models.MediaAudio:
		return "audio"
	case models.MediaDocument:
		return "document"
	case models.MediaSticker:
		return "sticker"
	default:
		return "document"
	}
}

type wireMedia struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func encodeMedia(m models.MediaMessage) ([]byte, error) {
	recipient := recipientOf(m.Recipient())
	typeName := mediaTypeName(m.Kind)
	out := map[string]any{
		"to":             recipient.To,
		"recipient_type": recipient.Type,
		"type":           typeName,
		typeName: wireMedia{
			ID:       m.MediaID,
			Link:     m.URL,
			Caption:  m.Caption,
			Filename: m.Filename,
		},
	}
	return json.Marshal(out)
}

func encodeInteractive(m models.InteractiveMessage) ([]byte, error) {
	out := map[string]any{
		"to":             m.Recipient().Identifier,
		"recipient_type": "individual",
		"type":           "interactive",
	}
	interactive := map[string]any{
		"body": map[string]string{"text": m.BodyText},
	}
	switch m.Kind {
	case models.InteractiveButton:
		interactive["type"] = "button"
		interactive["action"] = map[string]any{"buttons": m.Buttons}
	case models.InteractiveList:
		interactive["type"] = "list"
		interactive["action"] = map[string]any{"button": m.ButtonText, "sections": m.Sections}
	case models.InteractiveCtaURL:
		interactive["type"] = "cta_url"
		interactive["action"] = map[string]any{
			"parameters": map[string]string{"display_text": m.CtaLabel, "url": m.CtaURL},
		}
	}
	out["interactive"] = interactive
	return json.Marshal(out)
}
