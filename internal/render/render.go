package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/status"
	intsync "github.com/matheus3301/socialchat/internal/sync"
)

// Renderer prints thread snapshots as plain text.
type Renderer struct {
	// Now and Location fix the clock for timestamps; zero values use the
	// local clock.
	Now      func() time.Time
	Location *time.Location
}

// Thread writes the header, the entries and any fetch error of s.
func (r Renderer) Thread(w io.Writer, s intsync.Snapshot) error {
	var b strings.Builder
	b.WriteString(Header(s))
	b.WriteByte('\n')

	switch {
	case s.State == status.Closed:
		b.WriteString("  (closed)\n")
	case s.State == status.Loading:
		b.WriteString("  loading history\n")
	case len(s.Entries) == 0 && s.FetchErr == nil:
		b.WriteString("  no messages yet\n")
	}

	names := participantNames(s.Conversation)
	for _, e := range s.Entries {
		b.WriteString(r.Entry(e, names))
		b.WriteByte('\n')
	}
	if s.FetchErr != nil {
		fmt.Fprintf(&b, "! could not load history: %s (type /retry)\n", sanitize(s.FetchErr.Error()))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Header is the one-line summary of a thread.
func Header(s intsync.Snapshot) string {
	title := s.ConversationID
	if c := s.Conversation; c != nil && c.DisplayName != "" {
		title = sanitize(c.DisplayName)
		if c.Kind == chat.Group {
			title += fmt.Sprintf(" (group, %d)", len(c.Participants))
		}
	}
	conn := s.Connection.State.String()
	if s.Connection.Transport != "" {
		conn += " via " + string(s.Connection.Transport)
	}
	if s.Connection.Reason != "" && s.Connection.State != intsync.Connected {
		conn += ": " + sanitize(s.Connection.Reason)
	}
	return fmt.Sprintf("# %s [%s] %s", title, strings.ToLower(string(s.State)), conn)
}

// Entry formats one entry. names maps sender ids to display names.
func (r Renderer) Entry(e intsync.Entry, names map[string]string) string {
	sender := names[e.Message.SenderID]
	if sender == "" {
		sender = e.Message.SenderID
	}
	if e.Own {
		sender = "You"
	}

	line := fmt.Sprintf("[%s] %s: %s", r.timestamp(e.Message.CreatedAt), sanitize(sender), sanitize(e.Message.Text))
	switch e.State {
	case intsync.Pending:
		line += " (sending)"
	case intsync.Failed:
		line += fmt.Sprintf(" (failed: %s; /resend %s)", sanitize(e.FailReason), e.LocalID)
	}
	return line
}

func (r Renderer) timestamp(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	t, now = t.In(loc), now.In(loc)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}

func participantNames(c *chat.Conversation) map[string]string {
	if c == nil {
		return nil
	}
	names := make(map[string]string, len(c.Participants))
	for _, p := range c.Participants {
		names[p.ID] = p.Name
	}
	return names
}
