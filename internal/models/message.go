// Package models holds the data types the core pipeline moves around:
// inbound logical messages, recipients, and the outbound message sum type.
// Version: go1.22
package models

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// phoneE164Pattern matches an E.164 phone number: optional leading '+',
// leading digit 1-9, 2-15 digits total, digits only.
var phoneE164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// Message is the immutable logical message the pipeline ingests, queues,
// and hands to the Processor. Immutable once accepted: nothing in this
// package mutates a Message after construction.
type Message struct {
	MessageID  string
	UserID     string
	Content    string
	ReceivedAt time.Time
}

// NewMessage validates and constructs a Message.
func NewMessage(messageID, userID, content string, receivedAt time.Time) (Message, error) {
	if messageID == "" {
		return Message{}, errors.New("message id is required")
	}
	if userID == "" {
		return Message{}, errors.New("user id is required")
	}
	return Message{
		MessageID:  messageID,
		UserID:     userID,
		Content:    content,
		ReceivedAt: receivedAt,
	}, nil
}

// RecipientKind distinguishes how a Recipient is addressed.
type RecipientKind int

const (
	RecipientPhoneE164 RecipientKind = iota
	RecipientUserID
)

func (k RecipientKind) String() string {
	switch k {
	case RecipientPhoneE164:
		return "PHONE_E164"
	case RecipientUserID:
		return "USER_ID"
	default:
		return "UNKNOWN"
	}
}

// Recipient identifies who an OutboundMessage is addressed to.
type Recipient struct {
	Identifier string
	Kind       RecipientKind
}

// NewPhoneRecipient validates identifier as E.164 and returns a Recipient.
func NewPhoneRecipient(identifier string) (Recipient, error) {
	normalized, err := NormalizeE164(identifier)
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{Identifier: normalized, Kind: RecipientPhoneE164}, nil
}

// NewUserIDRecipient returns a Recipient addressed by opaque user ID.
func NewUserIDRecipient(identifier string) (Recipient, error) {
	if identifier == "" {
		return Recipient{}, errors.New("user id recipient cannot be empty")
	}
	return Recipient{Identifier: identifier, Kind: RecipientUserID}, nil
}

// NormalizeE164 validates and normalizes a phone number to the bare E.164
// digit form used internally (no leading '+'). It is idempotent: normalizing
// an already-normalized number returns it unchanged.
//
// Rejects: non-digit characters (besides a single optional leading '+'),
// a leading zero, and lengths outside [2,15] digits.
func NormalizeE164(raw string) (string, error) {
	if !phoneE164Pattern.MatchString(raw) {
		return "", errors.Errorf("invalid E.164 phone number: %q", raw)
	}
	digits := raw
	if len(digits) > 0 && digits[0] == '+' {
		digits = digits[1:]
	}
	if len(digits) < 2 || len(digits) > 15 {
		return "", errors.Errorf("invalid E.164 phone number length: %q", raw)
	}
	return digits, nil
}
