// ABOUTME: Tests for transcript reconciliation
// ABOUTME: Covers ordering, duplicate pushes and optimistic entry replacement

package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hostchat/internal/api"
)

func stored(seq int64, clientMsgID string) *api.Message {
	return &api.Message{
		ID:             fmt.Sprintf("m%d", seq),
		ConversationID: "c1",
		SenderID:       "u1",
		Body:           fmt.Sprintf("body %d", seq),
		Status:         "sent",
		Seq:            seq,
		ClientMsgID:    clientMsgID,
	}
}

func pendingMsg(clientMsgID string) *api.Message {
	return &api.Message{
		ConversationID: "c1",
		SenderID:       "u1",
		Body:           "pending " + clientMsgID,
		Status:         StatusPending,
		ClientMsgID:    clientMsgID,
	}
}

func ids(msgs []*api.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			out[i] = m.Status + ":" + m.ClientMsgID
			continue
		}
		out[i] = m.ID
	}
	return out
}

func TestReconcile_AppendsInSeqOrder(t *testing.T) {
	var tr []*api.Message
	tr = Reconcile(tr, stored(1, ""))
	tr = Reconcile(tr, stored(3, ""))
	tr = Reconcile(tr, stored(2, ""))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(tr))
}

func TestReconcile_DuplicatePushIsIgnored(t *testing.T) {
	tr := []*api.Message{stored(1, ""), stored(2, "")}

	out := Reconcile(tr, stored(2, ""))
	assert.Equal(t, []string{"m1", "m2"}, ids(out))
}

func TestReconcile_SameIDReplacesEntry(t *testing.T) {
	tr := []*api.Message{stored(1, "")}
	updated := stored(1, "")
	updated.Status = "delivered"

	out := Reconcile(tr, updated)
	require.Len(t, out, 1)
	assert.Equal(t, "delivered", out[0].Status)
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	tr := []*api.Message{stored(1, ""), stored(3, "")}
	before := ids(tr)

	_ = Reconcile(tr, stored(2, ""))
	_ = Reconcile(tr, pendingMsg("x"))
	assert.Equal(t, before, ids(tr))
}

func TestReconcile_ServerEchoReplacesOptimisticEntry(t *testing.T) {
	tr := Reconcile([]*api.Message{stored(1, "")}, pendingMsg("x"))
	assert.Equal(t, []string{"m1", "pending:x"}, ids(tr))

	out := Reconcile(tr, stored(2, "x"))
	assert.Equal(t, []string{"m1", "m2"}, ids(out))
}

func TestReconcile_PendingStaysAfterStored(t *testing.T) {
	tr := Reconcile(nil, pendingMsg("x"))
	tr = Reconcile(tr, stored(1, ""))
	tr = Reconcile(tr, stored(2, ""))

	assert.Equal(t, []string{"m1", "m2", "pending:x"}, ids(tr))
}

func TestReconcile_EchoBeforeAckDropsLateFailure(t *testing.T) {
	tr := Reconcile(nil, pendingMsg("x"))
	tr = Reconcile(tr, stored(1, "x"))

	failed := pendingMsg("x")
	failed.Status = StatusFailed
	out := Reconcile(tr, failed)

	assert.Equal(t, []string{"m1"}, ids(out))
}

func TestReconcile_FailureReplacesPending(t *testing.T) {
	tr := Reconcile(nil, pendingMsg("x"))
	tr = Reconcile(tr, pendingMsg("y"))

	failed := pendingMsg("x")
	failed.Status = StatusFailed
	out := Reconcile(tr, failed)

	assert.Equal(t, []string{"failed:x", "pending:y"}, ids(out))
}

func TestReconcile_OtherSenderWithSameClientIDIsDistinct(t *testing.T) {
	tr := Reconcile(nil, pendingMsg("x"))

	theirs := stored(1, "x")
	theirs.SenderID = "u2"
	out := Reconcile(tr, theirs)

	assert.Equal(t, []string{"m1", "pending:x"}, ids(out))
}

func TestReconcileAll(t *testing.T) {
	out := ReconcileAll(nil, []*api.Message{stored(2, ""), stored(1, ""), stored(2, "")})
	assert.Equal(t, []string{"m1", "m2"}, ids(out))

	assert.NotNil(t, ReconcileAll(nil, nil))
}
