package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"parley/internal/attach"
)

// Send submits the current composition. Validation failures return
// immediately with no network activity and the composition intact. On
// success the persisted message is mirrored onto the realtime channel
// for fan-out (the sender's own copy comes back the same way and is
// dropped by the store's id dedup), and the composition and staged
// files are cleared. A rejected send also leaves everything intact so
// the user can retry without redoing input.
func (s *Session) Send(ctx context.Context) error {
	var (
		roomID  string
		epoch   int
		text    string
		replyTo string
		files   []attach.StagedFile
	)

	err := s.call(func() {
		if s.room == nil {
			roomID = ""
			return
		}
		roomID = s.room.ID
		epoch = s.epoch
		text = s.text
		if target, ok := s.linker.Target(); ok {
			replyTo = target
		}
		files = s.stager.Files()
	})
	if err != nil {
		return err
	}

	if roomID == "" {
		return ErrNoActiveRoom
	}
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return ErrEmptyMessage
	}
	if len([]rune(text)) > s.opts.MaxTextLen {
		return ErrTextTooLong
	}

	msg, err := s.api.SendMessage(ctx, roomID, text, replyTo, files)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	if err := s.realtime.Emit(msg); err != nil {
		// The message is persisted; other participants will still see
		// it on their next history fetch. Surface the degraded
		// delivery but do not fail the send.
		slog.Warn("echo broadcast failed", "component", "session", "message_id", msg.ID, "error", err)
	}

	s.call(func() {
		// A room switch during the request already cleared the new
		// room's composition; do not clear again across epochs.
		if epoch != s.epoch {
			return
		}
		s.text = ""
		s.linker.ClearTarget()
		s.stager.Clear()
	})
	return nil
}
