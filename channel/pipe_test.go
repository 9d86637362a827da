package channel

import (
	"bytes"
	"errors"
	"testing"
)

func TestPipeRoundTrip(t *testing.T) {
	left, right := NewPipe()

	frames := [][]byte{[]byte("1.0"), []byte("read"), []byte("payload")}
	if err := left.Send(frames); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := right.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if len(got) != 3 || !bytes.Equal(got[2], frames[2]) {
		t.Fatalf("frame mismatch: %v", got)
	}

	// And back the other way.
	if err := right.Send(frames); err != nil {
		t.Fatalf("reverse Send failed: %v", err)
	}
	if _, err := left.Recv(); err != nil {
		t.Fatalf("reverse Recv failed: %v", err)
	}
}

func TestPipeDrainsBeforeClosed(t *testing.T) {
	left, right := NewPipe()

	if err := left.Send([][]byte{[]byte("x")}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	left.Close()

	// The in-flight message is still delivered before ErrClosed surfaces.
	if _, err := right.Recv(); err != nil {
		t.Fatalf("expect in-flight message, got %v", err)
	}
	if _, err := right.Recv(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestPipeCloseBothEnds(t *testing.T) {
	left, right := NewPipe()

	// Closing both ends must be safe.
	left.Close()
	right.Close()

	if err := left.Send([][]byte{[]byte("x")}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed on Send, got %v", err)
	}
}

func TestPipeRecvUnblocksOnClose(t *testing.T) {
	left, right := NewPipe()

	done := make(chan error, 1)
	go func() {
		_, err := right.Recv()
		done <- err
	}()

	left.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}
