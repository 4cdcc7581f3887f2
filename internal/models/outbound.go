package models

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// OutboundMessage is the sum type the core moves opaquely between the
// Processor and the outbound transport. The core never branches on the
// concrete variant; only pkg/whatsapp does.
type OutboundMessage interface {
	outboundMessage()
	Recipient() Recipient
}

type base struct {
	To Recipient
}

func (base) outboundMessage()       {}
func (b base) Recipient() Recipient { return b.To }

// TextMessage carries a plain text body, 1-4096 characters.
type TextMessage struct {
	base
	Body string
}

// NewTextMessage validates body length and constructs a TextMessage.
func NewTextMessage(to Recipient, body string) (TextMessage, error) {
	if n := utf8.RuneCountInString(body); n < 1 || n > 4096 {
		return TextMessage{}, errors.New("text body must be 1-4096 characters")
	}
	return TextMessage{base: base{To: to}, Body: body}, nil
}

// MediaKind distinguishes the WhatsApp media subtypes.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
	MediaAudio
	MediaDocument
	MediaSticker
)

// MediaMessage carries a media attachment with an optional caption.
type MediaMessage struct {
	base
	Kind      MediaKind
	URL       string
	MediaID   string // alternative to URL: a previously-uploaded media handle
	Caption   string
	Filename  string
	MimeType  string
}

// NewMediaMessage validates caption length (<=1024) and that exactly one of
// URL/MediaID is set.
func NewMediaMessage(to Recipient, kind MediaKind, url, mediaID, caption string) (MediaMessage, error) {
	if (url == "") == (mediaID == "") {
		return MediaMessage{}, errors.New("media message requires exactly one of url or mediaID")
	}
	if utf8.RuneCountInString(caption) > 1024 {
		return MediaMessage{}, errors.New("caption must be at most 1024 characters")
	}
	if kind == MediaSticker && caption != "" {
		return MediaMessage{}, errors.New("sticker messages cannot carry a caption")
	}
	return MediaMessage{base: base{To: to}, Kind: kind, URL: url, MediaID: mediaID, Caption: caption}, nil
}

// TemplateParameter is a single substitution value within a template component.
type TemplateParameter struct {
	Type  string
	Value string
}

// TemplateComponent is one section (header/body/button) of a template.
type TemplateComponent struct {
	Type       string
	SubType    string
	Index      int
	Parameters []TemplateParameter
}

// TemplateMessage sends a pre-approved WhatsApp message template.
type TemplateMessage struct {
	base
	Name       string
	Language   string
	Components []TemplateComponent
}

// NewTemplateMessage validates required template identity fields.
func NewTemplateMessage(to Recipient, name, language string, components []TemplateComponent) (TemplateMessage, error) {
	if name == "" {
		return TemplateMessage{}, errors.New("template name is required")
	}
	if language == "" {
		return TemplateMessage{}, errors.New("template language is required")
	}
	return TemplateMessage{base: base{To: to}, Name: name, Language: language, Components: components}, nil
}

// InteractiveKind distinguishes the interactive message subtypes.
type InteractiveKind int

const (
	InteractiveButton InteractiveKind = iota
	InteractiveList
	InteractiveCtaURL
)

// InteractiveButtonOption is one quick-reply button.
type InteractiveButtonOption struct {
	ID    string
	Title string
}

// InteractiveListRow is one selectable row within a list message section.
type InteractiveListRow struct {
	ID          string
	Title       string
	Description string
}

// InteractiveListSection groups rows under a heading.
type InteractiveListSection struct {
	Title string
	Rows  []InteractiveListRow
}

// InteractiveMessage carries buttons, a list, or a call-to-action URL.
type InteractiveMessage struct {
	base
	Kind       InteractiveKind
	BodyText   string
	Buttons    []InteractiveButtonOption // InteractiveButton
	ButtonText string                    // InteractiveList: label on the opening button
	Sections   []InteractiveListSection  // InteractiveList
	CtaLabel   string                    // InteractiveCtaURL
	CtaURL     string                    // InteractiveCtaURL
}

// NewButtonInteractive constructs a button-reply interactive message.
func NewButtonInteractive(to Recipient, bodyText string, buttons []InteractiveButtonOption) (InteractiveMessage, error) {
	if len(buttons) == 0 || len(buttons) > 3 {
		return InteractiveMessage{}, errors.New("button interactive requires 1-3 buttons")
	}
	return InteractiveMessage{base: base{To: to}, Kind: InteractiveButton, BodyText: bodyText, Buttons: buttons}, nil
}

// NewListInteractive constructs a list-reply interactive message.
func NewListInteractive(to Recipient, bodyText, buttonText string, sections []InteractiveListSection) (InteractiveMessage, error) {
	if len(sections) == 0 {
		return InteractiveMessage{}, errors.New("list interactive requires at least one section")
	}
	return InteractiveMessage{base: base{To: to}, Kind: InteractiveList, BodyText: bodyText, ButtonText: buttonText, Sections: sections}, nil
}

// NewCtaURLInteractive constructs a call-to-action URL interactive message.
func NewCtaURLInteractive(to Recipient, bodyText, ctaLabel, ctaURL string) (InteractiveMessage, error) {
	if ctaURL == "" {
		return InteractiveMessage{}, errors.New("cta interactive requires a url")
	}
	return InteractiveMessage{base: base{To: to}, Kind: InteractiveCtaURL, BodyText: bodyText, CtaLabel: ctaLabel, CtaURL: ctaURL}, nil
}

// LocationMessage shares a geographic coordinate.
type LocationMessage struct {
	base
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// NewLocationMessage validates the coordinate range and constructs a
// LocationMessage.
func NewLocationMessage(to Recipient, lat, lng float64, name, address string) (LocationMessage, error) {
	if lat < -90 || lat > 90 {
		return LocationMessage{}, errors.New("latitude must be within [-90, 90]")
	}
	if lng < -180 || lng > 180 {
		return LocationMessage{}, errors.New("longitude must be within [-180, 180]")
	}
	return LocationMessage{base: base{To: to}, Latitude: lat, Longitude: lng, Name: name, Address: address}, nil
}

// ContactMessage shares one or more contact cards.
type ContactMessage struct {
	base
	Contacts []Contact
}

// Contact is a single vCard-like contact entry.
type Contact struct {
	Name  string
	Phone string
}

// NewContactMessage validates that at least one contact is present and
// constructs a ContactMessage.
func NewContactMessage(to Recipient, contacts []Contact) (ContactMessage, error) {
	if len(contacts) == 0 {
		return ContactMessage{}, errors.New("contact message requires at least one contact")
	}
	return ContactMessage{base: base{To: to}, Contacts: contacts}, nil
}

// ReactionMessage attaches an emoji reaction to a previously-sent message.
type ReactionMessage struct {
	base
	ReferencedMessageID string
	Emoji               string // empty string removes the reaction
}

// NewReactionMessage constructs a ReactionMessage. An empty emoji removes a
// previously-sent reaction from referencedMessageID.
func NewReactionMessage(to Recipient, referencedMessageID, emoji string) (ReactionMessage, error) {
	if referencedMessageID == "" {
		return ReactionMessage{}, errors.New("reaction message requires a referenced message id")
	}
	return ReactionMessage{base: base{To: to}, ReferencedMessageID: referencedMessageID, Emoji: emoji}, nil
}
