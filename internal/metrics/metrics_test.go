package metrics

import "testing"

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncHandshakeSucceeded()
	m.IncHandshakeSucceeded()
	m.IncHandshakeBadCert()
	m.IncPacketDropReplay()
	m.IncPacketDropTagFailure()
	m.IncPacketSeqLurch()
	m.IncPacketKeepaliveSent()
	m.IncPacketReplyTimeout()

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed(3001, false)

	snap := m.Snapshot()
	if snap.Handshake.Succeeded != 2 {
		t.Fatalf("expected succeeded=2, got %d", snap.Handshake.Succeeded)
	}
	if snap.Handshake.BadCert != 1 {
		t.Fatalf("expected bad_cert=1, got %d", snap.Handshake.BadCert)
	}
	if snap.Packet.DropReplay != 1 || snap.Packet.DropTagFailure != 1 || snap.Packet.SeqLurch != 1 {
		t.Fatalf("unexpected packet counts: %+v", snap.Packet)
	}
	if snap.ConnsLive != 1 {
		t.Fatalf("expected conns_live=1, got %d", snap.ConnsLive)
	}
	if len(snap.Recent) != 1 || snap.Recent[0].EndReason != 3001 {
		t.Fatalf("expected one recent closure with end_reason=3001, got %+v", snap.Recent)
	}
}

func TestClosureRecentBounded(t *testing.T) {
	r := NewClosureRecent(2)
	r.Add(EndReasonEvent{EndReason: 1})
	r.Add(EndReasonEvent{EndReason: 2})
	r.Add(EndReasonEvent{EndReason: 3})
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(list))
	}
	if list[0].EndReason != 2 || list[1].EndReason != 3 {
		t.Fatalf("expected oldest entry evicted, got %+v", list)
	}
}
