package channel

import (
	"bytes"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*natsserver.Server, string) {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("server failed to start")
	}

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns, ns.ClientURL()
}

func TestNATSChannelRequestReply(t *testing.T) {
	_, url := startTestServer(t, 14250)

	ch, err := ConnectNATS(url, "worker-test", "mesh.users", zerolog.Nop())
	if err != nil {
		t.Fatalf("ConnectNATS failed: %v", err)
	}
	defer ch.Close()

	// Worker loop: receive one message, echo it back.
	go func() {
		frames, err := ch.Recv()
		if err != nil {
			t.Errorf("Recv failed: %v", err)
			return
		}
		if err := ch.Send(frames); err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}()

	// Router side: plain NATS request with msgpack-encoded frames.
	nc, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer nc.Close()

	frames := [][]byte{[]byte("1.0"), []byte("read"), []byte("payload")}
	body, err := msgpack.Marshal(frames)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := nc.Request("mesh.users", body, 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	var got [][]byte
	if err := msgpack.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(got) != 3 || !bytes.Equal(got[2], frames[2]) {
		t.Fatalf("frame mismatch: %v", got)
	}
}

func TestNATSChannelDropsInvalidBody(t *testing.T) {
	_, url := startTestServer(t, 14251)

	ch, err := ConnectNATS(url, "worker-test", "mesh.users", zerolog.Nop())
	if err != nil {
		t.Fatalf("ConnectNATS failed: %v", err)
	}
	defer ch.Close()

	nc, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer nc.Close()

	// Garbage first, then a valid message: Recv must skip the garbage.
	if err := nc.Publish("mesh.users", []byte("\xc1garbage")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	frames := [][]byte{[]byte("1.0"), []byte("read"), []byte("payload")}
	body, _ := msgpack.Marshal(frames)
	if err := nc.Publish("mesh.users", body); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	nc.Flush()

	got, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !bytes.Equal(got[2], frames[2]) {
		t.Fatalf("frame mismatch: %v", got)
	}
}

func TestNATSChannelClosedRecv(t *testing.T) {
	_, url := startTestServer(t, 14252)

	ch, err := ConnectNATS(url, "worker-test", "mesh.users", zerolog.Nop())
	if err != nil {
		t.Fatalf("ConnectNATS failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ch.Recv()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("expect ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock on Close")
	}
}
