package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecipient(t *testing.T) Recipient {
	t.Helper()
	r, err := NewPhoneRecipient("+15551234567")
	require.NoError(t, err)
	return r
}

func TestNewTextMessage_RejectsOutOfRangeLength(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewTextMessage(to, "")
	assert.Error(t, err)

	oversized := make([]byte, 4097)
	_, err = NewTextMessage(to, string(oversized))
	assert.Error(t, err)

	m, err := NewTextMessage(to, "hi")
	require.NoError(t, err)
	assert.Equal(t, to, m.Recipient())
}

func TestNewMediaMessage_RequiresExactlyOneOfURLOrMediaID(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewMediaMessage(to, MediaImage, "", "", "")
	assert.Error(t, err, "neither url nor mediaID set")

	_, err = NewMediaMessage(to, MediaImage, "https://cdn/a.jpg", "media-1", "")
	assert.Error(t, err, "both url and mediaID set")

	_, err = NewMediaMessage(to, MediaImage, "https://cdn/a.jpg", "", "")
	assert.NoError(t, err)
}

func TestNewMediaMessage_RejectsOverlongCaption(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)
	overlong := make([]byte, 1025)
	_, err := NewMediaMessage(to, MediaImage, "https://cdn/a.jpg", "", string(overlong))
	assert.Error(t, err)
}

func TestNewMediaMessage_RejectsCaptionOnSticker(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)
	_, err := NewMediaMessage(to, MediaSticker, "https://cdn/a.webp", "", "nice sticker")
	assert.Error(t, err)

	_, err = NewMediaMessage(to, MediaSticker, "https://cdn/a.webp", "", "")
	assert.NoError(t, err)
}

func TestNewTemplateMessage_RequiresNameAndLanguage(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewTemplateMessage(to, "", "en_US", nil)
	assert.Error(t, err)

	_, err = NewTemplateMessage(to, "order_confirmation", "", nil)
	assert.Error(t, err)

	m, err := NewTemplateMessage(to, "order_confirmation", "en_US", nil)
	require.NoError(t, err)
	assert.Equal(t, "order_confirmation", m.Name)
}

func TestNewButtonInteractive_RequiresOneToThreeButtons(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewButtonInteractive(to, "pick one", nil)
	assert.Error(t, err)

	four := make([]InteractiveButtonOption, 4)
	_, err = NewButtonInteractive(to, "pick one", four)
	assert.Error(t, err)

	one := []InteractiveButtonOption{{ID: "a", Title: "A"}}
	m, err := NewButtonInteractive(to, "pick one", one)
	require.NoError(t, err)
	assert.Equal(t, InteractiveButton, m.Kind)
}

func TestNewListInteractive_RequiresAtLeastOneSection(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewListInteractive(to, "body", "Open", nil)
	assert.Error(t, err)

	sections := []InteractiveListSection{{Title: "s1", Rows: []InteractiveListRow{{ID: "r1", Title: "Row"}}}}
	m, err := NewListInteractive(to, "body", "Open", sections)
	require.NoError(t, err)
	assert.Equal(t, InteractiveList, m.Kind)
}

func TestNewCtaURLInteractive_RequiresURL(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewCtaURLInteractive(to, "body", "Visit", "")
	assert.Error(t, err)

	m, err := NewCtaURLInteractive(to, "body", "Visit", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, InteractiveCtaURL, m.Kind)
}

func TestNewLocationMessage_RejectsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewLocationMessage(to, 91, 0, "", "")
	assert.Error(t, err)

	_, err = NewLocationMessage(to, 0, 181, "", "")
	assert.Error(t, err)

	m, err := NewLocationMessage(to, 37.7749, -122.4194, "HQ", "1 Market St")
	require.NoError(t, err)
	assert.Equal(t, "HQ", m.Name)
}

func TestNewContactMessage_RequiresAtLeastOneContact(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewContactMessage(to, nil)
	assert.Error(t, err)

	m, err := NewContactMessage(to, []Contact{{Name: "Alice", Phone: "+15551234567"}})
	require.NoError(t, err)
	assert.Len(t, m.Contacts, 1)
}

func TestNewReactionMessage_RequiresReferencedMessageID(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)

	_, err := NewReactionMessage(to, "", "👍")
	assert.Error(t, err)

	m, err := NewReactionMessage(to, "wamid.original", "")
	require.NoError(t, err, "an empty emoji removes a reaction and is valid")
	assert.Empty(t, m.Emoji)
}

func TestOutboundMessage_RecipientReflectsConstructionTarget(t *testing.T) {
	t.Parallel()
	to := testRecipient(t)
	m, err := NewTextMessage(to, "hello")
	require.NoError(t, err)

	var sum OutboundMessage = m
	assert.Equal(t, to, sum.Recipient())
}
