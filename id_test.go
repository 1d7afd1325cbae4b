package streamrpc

import "testing"

func TestIDAllocator_OddMonotonic(t *testing.T) {
	a := newClientIDAllocator()

	var prev uint64
	for i := 0; i < 10; i++ {
		id := a.Next()
		if id%2 == 0 {
			t.Fatalf("id %d is even, want odd", id)
		}
		if i > 0 && id <= prev {
			t.Fatalf("id %d did not increase from %d", id, prev)
		}
		prev = id
	}
}
