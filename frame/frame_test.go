package frame_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/streamrpc/streamrpc/frame"
)

// TestParser_Fragmentation is §8's S8: two encoded frames concatenated and
// delivered in two, three or one slices must produce exactly two decoded
// messages.
func TestParser_Fragmentation(t *testing.T) {
	msg1 := []byte("hello")
	msg2 := []byte("world, a somewhat longer second payload")

	full := append(frame.Encode(msg1), frame.Encode(msg2)...)

	splits := [][]int{
		{3, len(full) - 3},
		{1, 1, len(full) - 2},
		{len(full)},
	}

	for _, sizes := range splits {
		p := frame.NewParser(0)
		var got [][]byte
		off := 0
		for _, n := range sizes {
			chunk := full[off : off+n]
			off += n
			msgs, err := p.Feed(chunk)
			if err != nil {
				t.Fatalf("Feed: %v", err)
			}
			got = append(got, msgs...)
		}
		want := [][]byte{msg1, msg2}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("splits=%v mismatch (-want +got):\n%s", sizes, diff)
		}
	}
}

// TestParser_RandomFragmentation drives Feed with randomly sized chunks of
// 1 to 7 bytes over twenty frames, the stronger form of the same property.
func TestParser_RandomFragmentation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var want [][]byte
	var full []byte
	for i := 0; i < 20; i++ {
		n := rng.Intn(200)
		msg := make([]byte, n)
		rng.Read(msg)
		want = append(want, msg)
		full = append(full, frame.Encode(msg)...)
	}

	p := frame.NewParser(0)
	var got [][]byte
	for len(full) > 0 {
		n := 1 + rng.Intn(7)
		if n > len(full) {
			n = len(full)
		}
		chunk := full[:n]
		full = full[n:]
		msgs, err := p.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, msgs...)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", p.Pending())
	}
}

func TestParser_UnsupportedCompression(t *testing.T) {
	p := frame.NewParser(0)
	bad := frame.Encode([]byte("x"))
	bad[0] = 1

	_, err := p.Feed(bad)
	var pe *frame.ProtocolError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asProtocolError(err, &pe) || pe.Kind != frame.UnsupportedCompression {
		t.Fatalf("got %v, want UnsupportedCompression", err)
	}
}

func TestParser_MessageTooLarge(t *testing.T) {
	p := frame.NewParser(4)
	big := frame.Encode([]byte("12345"))

	_, err := p.Feed(big)
	var pe *frame.ProtocolError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asProtocolError(err, &pe) || pe.Kind != frame.MessageTooLarge {
		t.Fatalf("got %v, want MessageTooLarge", err)
	}
}

func asProtocolError(err error, target **frame.ProtocolError) bool {
	type causer interface{ Cause() error }
	for err != nil {
		if pe, ok := err.(*frame.ProtocolError); ok {
			*target = pe
			return true
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}
