package msgqueue

import "testing"

func collect(q *Queue) []int64 {
	var out []int64
	msgs := q.RemoveUpTo(1 << 30)
	for _, m := range msgs {
		out = append(out, m.Number)
	}
	return out
}

func TestLinkToTailOrdering(t *testing.T) {
	q := NewQueue(LinkConn)
	m1 := &Message{Number: 1}
	m2 := &Message{Number: 2}
	m3 := &Message{Number: 3}
	q.LinkToTail(m1)
	q.LinkToTail(m2)
	q.LinkToTail(m3)

	got := collect(q)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty after RemoveUpTo(all)")
	}
}

func TestDualMembershipIndependence(t *testing.T) {
	connQ := NewQueue(LinkConn)
	listenQ := NewQueue(LinkListen)

	m := &Message{Number: 1}
	connQ.LinkToTail(m)
	listenQ.LinkToTail(m)

	if connQ.Empty() || listenQ.Empty() {
		t.Fatalf("message should be linked on both queues")
	}

	unlinkOne(m, LinkConn)
	if !connQ.Empty() {
		t.Fatalf("conn queue should be empty after unlinking its link pair")
	}
	if listenQ.Empty() {
		t.Fatalf("listen queue membership must survive unlinking the conn link pair")
	}

	Unlink(m)
	if !listenQ.Empty() {
		t.Fatalf("listen queue should be empty after full unlink")
	}
}

func TestRemoveUpToTransfersBothMemberships(t *testing.T) {
	connQ := NewQueue(LinkConn)
	listenQ := NewQueue(LinkListen)

	m1 := &Message{Number: 1}
	m2 := &Message{Number: 2}
	for _, m := range []*Message{m1, m2} {
		connQ.LinkToTail(m)
		listenQ.LinkToTail(m)
	}

	got := connQ.RemoveUpTo(1)
	if len(got) != 1 || got[0].Number != 1 {
		t.Fatalf("unexpected RemoveUpTo result: %+v", got)
	}
	if listenQ.Empty() {
		t.Fatalf("listen queue should still hold the second message")
	}
	if listenQ.Head().Number != 2 {
		t.Fatalf("removed message should have been unlinked from the listen queue too")
	}
}

func TestPurgeInvokesReleaseInOrder(t *testing.T) {
	q := NewQueue(LinkConn)
	m1 := &Message{Number: 1}
	m2 := &Message{Number: 2}
	q.LinkToTail(m1)
	q.LinkToTail(m2)

	var released []int64
	q.Purge(func(m *Message) { released = append(released, m.Number) })

	if !q.Empty() {
		t.Fatalf("queue should be empty after purge")
	}
	if len(released) != 2 || released[0] != 1 || released[1] != 2 {
		t.Fatalf("unexpected release order: %v", released)
	}
}

func TestUnlinkIdempotent(t *testing.T) {
	q := NewQueue(LinkConn)
	m := &Message{Number: 1}
	q.LinkToTail(m)
	Unlink(m)
	Unlink(m)
	if !q.Empty() {
		t.Fatalf("queue should remain empty")
	}
}
