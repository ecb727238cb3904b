// ABOUTME: Merges a message into a local transcript without duplicating it
// ABOUTME: Keyed by message ID, with optimistic entries matched on ClientMsgID

package client

import (
	"sort"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/store"
)

// Local-only statuses for optimistic entries that have no server copy yet.
var (
	StatusPending = string(store.MessageStatusPending)
	StatusFailed  = string(store.MessageStatusFailed)
)

func isLocal(m *api.Message) bool {
	return m.Seq == 0 && (m.Status == StatusPending || m.Status == StatusFailed)
}

// Reconcile returns transcript with msg merged in. The input slice is not
// modified.
//
// Stored messages are kept in Seq order, followed by optimistic entries in
// the order they were added. A stored message replaces an entry with the
// same ID, or the optimistic entry from the same sender with the same
// ClientMsgID. An optimistic entry whose ClientMsgID is already stored is
// dropped.
func Reconcile(transcript []*api.Message, msg *api.Message) []*api.Message {
	out := make([]*api.Message, 0, len(transcript)+1)

	if isLocal(msg) {
		for _, m := range transcript {
			if msg.ClientMsgID != "" && m.ClientMsgID == msg.ClientMsgID && m.SenderID == msg.SenderID && !isLocal(m) {
				return append(out, transcript...)
			}
		}
		replaced := false
		for _, m := range transcript {
			if isLocal(m) && m.ClientMsgID == msg.ClientMsgID && m.SenderID == msg.SenderID {
				out = append(out, msg)
				replaced = true
				continue
			}
			out = append(out, m)
		}
		if !replaced {
			out = append(out, msg)
		}
		return out
	}

	var stored, local []*api.Message
	for _, m := range transcript {
		switch {
		case m.ID == msg.ID:
		case isLocal(m) && msg.ClientMsgID != "" && m.ClientMsgID == msg.ClientMsgID && m.SenderID == msg.SenderID:
		case isLocal(m):
			local = append(local, m)
		default:
			stored = append(stored, m)
		}
	}

	i := sort.Search(len(stored), func(i int) bool { return stored[i].Seq > msg.Seq })
	out = append(out, stored[:i]...)
	out = append(out, msg)
	out = append(out, stored[i:]...)
	return append(out, local...)
}

// ReconcileAll merges msgs into transcript one at a time.
func ReconcileAll(transcript []*api.Message, msgs []*api.Message) []*api.Message {
	out := transcript
	for _, m := range msgs {
		out = Reconcile(out, m)
	}
	if out == nil {
		return []*api.Message{}
	}
	return out
}
