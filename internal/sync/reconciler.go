package sync

import (
	"slices"

	"github.com/matheus3301/socialchat/internal/chat"
)

// EntryState tags an Entry of the reconciled list.
type EntryState int

const (
	// Confirmed entries carry a message the server has stored.
	Confirmed EntryState = iota
	// Pending entries are local sends waiting for the server.
	Pending
	// Failed entries are local sends the server rejected or never received.
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry is one element of a conversation's reconciled list.
type Entry struct {
	Message chat.Message
	State   EntryState
	// LocalID is set for entries that started as a local send and is kept
	// after confirmation.
	LocalID string
	// Own reports whether the current user sent the message.
	Own bool
	// FailReason is set for Failed entries.
	FailReason string
}

// Outcome reports what Merge did with an incoming message.
type Outcome int

const (
	Inserted Outcome = iota
	Updated
	Reconciled
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// sameKey compares the dedup key (sender, createdAt to the millisecond, text).
func sameKey(a, b chat.Message) bool {
	return a.SenderID == b.SenderID &&
		a.Text == b.Text &&
		a.CreatedAt.UnixMilli() == b.CreatedAt.UnixMilli()
}

// Seed builds a sorted, confirmed list from fetched history. Messages
// repeating a server id are dropped.
func Seed(history []chat.Message, selfID string) []Entry {
	sorted := slices.Clone(history)
	slices.SortStableFunc(sorted, func(a, b chat.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})

	seen := make(map[string]bool, len(sorted))
	out := make([]Entry, 0, len(sorted))
	for _, m := range sorted {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, confirmed(m, "", selfID))
	}
	return out
}

// Merge folds an incoming server message into entries and returns the new
// list. entries is never modified. Rules, first match wins:
//
//  1. the message echoes a local id: that entry is confirmed in place
//  2. the server id is already present: that entry is updated in place
//  3. the dedup key matches a pending local send, or failing that a failed
//     one: the first such entry is confirmed in place
//  4. the dedup key matches an entry whose server id does not contradict
//     the message: nothing changes
//  5. otherwise the message is inserted in (CreatedAt, ID) order
func Merge(entries []Entry, msg chat.Message, selfID string) ([]Entry, Outcome) {
	if msg.ClientID != "" {
		if i := indexLocal(entries, msg.ClientID); i >= 0 {
			return confirmAt(entries, i, msg, selfID), Reconciled
		}
	}

	if msg.ID != "" {
		for i, e := range entries {
			if e.Message.ID == msg.ID {
				out := slices.Clone(entries)
				out[i] = confirmed(msg, e.LocalID, selfID)
				return out, Updated
			}
		}
	}

	for _, want := range []EntryState{Pending, Failed} {
		for i, e := range entries {
			if e.State == want && sameKey(e.Message, msg) {
				return confirmAt(entries, i, msg, selfID), Reconciled
			}
		}
	}

	for _, e := range entries {
		if !sameKey(e.Message, msg) {
			continue
		}
		if msg.ID == "" || e.Message.ID == "" || msg.ID == e.Message.ID {
			return entries, Duplicate
		}
	}

	return insertSorted(entries, confirmed(msg, "", selfID)), Inserted
}

// Append adds a local send at the end of the list.
func Append(entries []Entry, e Entry) []Entry {
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, e)
}

// Confirm replaces the local send localID with the server's copy, keeping
// its position. It reports false when no such entry exists.
func Confirm(entries []Entry, localID string, msg chat.Message, selfID string) ([]Entry, bool) {
	i := indexLocal(entries, localID)
	if i < 0 {
		return entries, false
	}
	return confirmAt(entries, i, msg, selfID), true
}

// Fail marks the pending local send localID as failed in place. Entries a
// realtime echo already confirmed are left alone.
func Fail(entries []Entry, localID, reason string) ([]Entry, bool) {
	i := indexLocal(entries, localID)
	if i < 0 || entries[i].State != Pending {
		return entries, false
	}
	out := slices.Clone(entries)
	out[i].State = Failed
	out[i].FailReason = reason
	return out, true
}

// Local returns the entries that started as local sends, in list order.
func Local(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.LocalID != "" {
			out = append(out, e)
		}
	}
	return out
}

// confirmAt confirms entry i with msg and drops any other entry already
// carrying msg's server id, so an echo that was inserted before the
// confirmation arrived does not stay duplicated.
func confirmAt(entries []Entry, i int, msg chat.Message, selfID string) []Entry {
	out := make([]Entry, 0, len(entries))
	for j, e := range entries {
		switch {
		case j == i:
			out = append(out, confirmed(msg, e.LocalID, selfID))
		case msg.ID != "" && e.Message.ID == msg.ID:
		default:
			out = append(out, e)
		}
	}
	return out
}

func confirmed(msg chat.Message, localID, selfID string) Entry {
	return Entry{
		Message: msg,
		State:   Confirmed,
		LocalID: localID,
		Own:     selfID != "" && msg.SenderID == selfID,
	}
}

func indexLocal(entries []Entry, localID string) int {
	for i, e := range entries {
		if e.LocalID == localID {
			return i
		}
	}
	return -1
}

// insertSorted places e after the last entry that does not sort after it.
// Scanning from the end keeps the common case, a new message, cheap.
func insertSorted(entries []Entry, e Entry) []Entry {
	pos := len(entries)
	for pos > 0 && e.Message.Before(entries[pos-1].Message) {
		pos--
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, e)
	return append(out, entries[pos:]...)
}
