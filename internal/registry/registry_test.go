package registry

import "testing"

func TestAllocateHalvesNonzero(t *testing.T) {
	r := New()
	for i := 0; i < 200; i++ {
		id, err := r.Allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if uint16(id>>16) == 0 || uint16(id) == 0 {
			t.Fatalf("allocated id %#x has a zero half", id)
		}
		if err := r.Insert(id, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestRecentRingAvoidsReuse(t *testing.T) {
	r := New()
	ids := make([]uint32, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := r.Allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := r.Insert(id, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.Remove(id)
	}

	for i := 0; i < 2000; i++ {
		id, err := r.Allocate()
		if err != nil {
			t.Fatalf("allocate after destroy: %v", err)
		}
		for _, destroyed := range ids {
			if uint16(id) == uint16(destroyed) {
				t.Fatalf("allocated id %#x reuses a just-destroyed low16 %#x", id, uint16(destroyed))
			}
		}
		if err := r.Insert(id, nil); err != nil {
			t.Fatalf("insert: %v", err)
		}
		r.Remove(id)
	}

	for _, id := range ids {
		if !r.InRecentRing(uint16(id)) {
			t.Fatalf("destroyed id %#x should still be in the recent ring", id)
		}
	}
}

func TestTooManyConnections(t *testing.T) {
	r := New()
	for i := 0; i < MaxLiveConnections; i++ {
		id, err := r.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if err := r.Insert(id, i); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := r.Allocate(); err != ErrTooManyConnections {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
}

func TestLookupAndRemove(t *testing.T) {
	r := New()
	id, err := r.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := r.Insert(id, "conn-a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, ok := r.Lookup(id)
	if !ok || v != "conn-a" {
		t.Fatalf("lookup mismatch: %v %v", v, ok)
	}
	r.Remove(id)
	if _, ok := r.Lookup(id); ok {
		t.Fatalf("expected lookup miss after remove")
	}
}
