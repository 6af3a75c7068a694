// Package reply tracks the composition's reply target and resolves a
// message's replyTo reference back to its source for previews and
// navigation.
package reply

import (
	"errors"

	"parley/internal/models"
	"parley/internal/store"
)

var ErrTargetNotInRoom = errors.New("reply target not in room message log")

const snippetMaxRunes = 80

// Linker binds reply state to the active room's message store.
type Linker struct {
	messages *store.Store
	target   string
}

func NewLinker(messages *store.Store) *Linker {
	return &Linker{messages: messages}
}

// SetTarget declares the composition a reply to the given message. The
// target must be present in the active room's loaded log.
func (l *Linker) SetTarget(messageID string) error {
	if !l.messages.Contains(messageID) {
		return ErrTargetNotInRoom
	}
	l.target = messageID
	return nil
}

func (l *Linker) ClearTarget() {
	l.target = ""
}

// Target returns the current reply target id, if one is set.
func (l *Linker) Target() (string, bool) {
	return l.target, l.target != ""
}

// Preview is a lightweight projection of a reply's source message.
// Loaded is false when the referenced id is absent from the loaded set;
// this is a normal display state with partial history, not a fault.
type Preview struct {
	Loaded     bool
	TargetID   string
	SenderName string
	Snippet    string
	Attachment *models.Attachment
}

// Resolve builds the reply preview for a rendered message. Messages
// without a reply reference yield a zero Preview with empty TargetID.
func (l *Linker) Resolve(msg models.Message) Preview {
	if msg.ReplyTo == nil || *msg.ReplyTo == "" {
		return Preview{}
	}

	targetID := *msg.ReplyTo
	source, ok := l.messages.Get(targetID)
	if !ok {
		return Preview{TargetID: targetID}
	}

	p := Preview{
		Loaded:     true,
		TargetID:   targetID,
		SenderName: source.Sender.DisplayName,
		Snippet:    snippet(source.Text),
	}
	if len(source.Attachments) > 0 {
		att := source.Attachments[0]
		p.Attachment = &att
	}
	return p
}

// NavigationTarget validates a scroll/highlight request against the
// loaded log. The id is returned only when it can actually be
// navigated to; otherwise the request is suppressed.
func (l *Linker) NavigationTarget(messageID string) (string, bool) {
	if !l.messages.Contains(messageID) {
		return "", false
	}
	return messageID, true
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxRunes {
		return text
	}
	return string(runes[:snippetMaxRunes]) + "…"
}
