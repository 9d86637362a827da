package test

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mesh-sdk/api"
	"mesh-sdk/balance"
	"mesh-sdk/caller"
	"mesh-sdk/channel"
	"mesh-sdk/codec"
	"mesh-sdk/config"
	"mesh-sdk/middleware"
	"mesh-sdk/protocol"
	"mesh-sdk/runner"
	"mesh-sdk/transport"
	"mesh-sdk/value"
)

func newRunner(name string) *runner.Runner {
	cfg := &config.Config{
		Name:         name,
		Version:      "1.0.0",
		Timeout:      5 * time.Second,
		MaxCallDepth: 8,
	}
	return runner.New(cfg, zerolog.Nop())
}

// TestWorkerOverTCP drives a complete exchange the way the router does:
// dial the worker channel, write framed command, read framed reply.
func TestWorkerOverTCP(t *testing.T) {
	r := newRunner("users")
	r.Use(middleware.Logging(zerolog.Nop()))
	r.Register("read", func(a *api.Action) error {
		id, err := a.Param("id").GetValue()
		if err != nil {
			return err
		}
		a.SetReturn(value.Object(map[string]value.Value{
			"id":   id,
			"name": value.String("ann"),
		}))
		return nil
	})

	ch, err := channel.ListenTCP("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("ListenTCP failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ch) }()

	conn, err := net.Dial("tcp", ch.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	cmd := &codec.CommandPayload{
		Command: codec.Command{
			Name: "read",
			Args: &codec.CommandArgs{
				RequestID: "rid-1",
				Params:    []value.ParamData{{Name: "id", Value: int64(9), Type: "integer"}},
			},
		},
		Meta: codec.CommandMeta{Scope: "service"},
	}
	frames, err := codec.EncodeRequest("read", cmd)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if err := protocol.WriteFrames(conn, frames); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}

	replyFrames, err := protocol.ReadFrames(conn)
	if err != nil {
		t.Fatalf("ReadFrames failed: %v", err)
	}
	_, reply, err := codec.DecodeReply(replyFrames)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}

	if reply.Reply == nil || reply.Reply.Result.Error != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	got := value.Of(reply.Reply.Result.Return)
	if got.Object()["name"].String() != "ann" {
		t.Fatalf("return mismatch: %v", got.Raw())
	}
	if got.Object()["id"].Int() != 9 {
		t.Fatalf("return mismatch: %v", got.Raw())
	}
	if reply.Reply.Result.Transport.Meta.ID != "rid-1" {
		t.Fatalf("transport id mismatch: %+v", reply.Reply.Result.Transport.Meta)
	}

	if err := r.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// startMeshRouter bridges runtime-call commands to worker channels: it
// resolves the callee service to a worker address and forwards the command
// over a fresh framed connection.
func startMeshRouter(t *testing.T, workers map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					frames, err := protocol.ReadFrames(conn)
					if err != nil {
						return
					}
					_, cmd, err := codec.DecodeRequest(frames)
					if err != nil {
						return
					}

					callee := cmd.Command.Args.Callee
					addr, ok := workers[callee[0]]
					if !ok {
						out := codec.EncodeErrorReply("unknown service", 0, "")
						protocol.WriteFrames(conn, out)
						continue
					}

					forward := &codec.CommandPayload{
						Command: codec.Command{
							Name: callee[2],
							Args: &codec.CommandArgs{
								Params:    cmd.Command.Args.Params,
								Transport: cmd.Command.Args.Transport,
							},
						},
						Meta: codec.CommandMeta{Scope: "service"},
					}
					fwdFrames, err := codec.EncodeRequest(callee[2], forward)
					if err != nil {
						return
					}

					wconn, err := net.Dial("tcp", addr)
					if err != nil {
						return
					}
					if err := protocol.WriteFrames(wconn, fwdFrames); err != nil {
						wconn.Close()
						return
					}
					replyFrames, err := protocol.ReadFrames(wconn)
					wconn.Close()
					if err != nil {
						return
					}

					_, workerReply, err := codec.DecodeReply(replyFrames)
					if err != nil {
						return
					}

					out := &codec.ReplyPayload{
						Reply: &codec.Reply{
							Name:   caller.RuntimeCallCommand,
							Result: workerReply.Reply.Result,
						},
					}
					outFrames, err := codec.EncodeReply(codec.FlagNone, out)
					if err != nil {
						return
					}
					if err := protocol.WriteFrames(conn, outFrames); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// TestRuntimeCallBetweenWorkers runs the full chain: a callback in one
// worker calls another service through the router, and the callee's
// transport merges back into the reply.
func TestRuntimeCallBetweenWorkers(t *testing.T) {
	// Callee worker: posts.list
	posts := newRunner("posts")
	posts.Register("list", func(a *api.Action) error {
		limit, err := a.Param("limit").GetValue()
		if err != nil {
			return err
		}
		items := make([]value.Value, limit.Int())
		for i := range items {
			items[i] = value.String("post")
		}
		a.Log("listed posts")
		a.SetReturn(value.Array(items))
		return nil
	})

	postsCh, err := channel.ListenTCP("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("ListenTCP failed: %v", err)
	}
	postsDone := make(chan error, 1)
	go func() { postsDone <- posts.Run(postsCh) }()

	routerAddr := startMeshRouter(t, map[string]string{"posts": postsCh.Addr()})

	// Caller worker: users.profile calls posts.list at run time.
	users := newRunner("users")
	rt := caller.NewRouter([]string{routerAddr}, balance.NewRoundRobin(), zerolog.Nop())
	defer rt.Close()
	users.SetCaller(rt)
	users.Register("profile", func(a *api.Action) error {
		postList, err := a.Call("posts", "1.0.0", "list",
			[]value.Param{value.NewParam("limit", value.Int(3))}, 2*time.Second)
		if err != nil {
			return err
		}
		a.SetReturn(value.Object(map[string]value.Value{
			"name":  value.String("ann"),
			"posts": postList,
		}))
		return nil
	})

	router, worker := channel.NewPipe()
	usersDone := make(chan error, 1)
	go func() { usersDone <- users.Run(worker) }()

	cmd := &codec.CommandPayload{
		Command: codec.Command{
			Name: "profile",
			Args: &codec.CommandArgs{RequestID: "rid-1"},
		},
		Meta: codec.CommandMeta{Scope: "service"},
	}
	frames, err := codec.EncodeRequest("profile", cmd)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if err := router.Send(frames); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	replyFrames, err := router.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	flags, reply, err := codec.DecodeReply(replyFrames)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}

	if reply.Reply == nil || reply.Reply.Result.Error != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	got := value.Of(reply.Reply.Result.Return)
	if len(got.Object()["posts"].Array()) != 3 {
		t.Fatalf("expect 3 posts, got %v", got.Raw())
	}

	// The call is documented in the reply.
	if !flags.Has(codec.FlagServiceCall) {
		t.Fatal("expect service-call flag on the reply")
	}
	tr := reply.Reply.Result.Transport
	if len(tr.Calls) != 1 || tr.Calls[0].Callee.Service != "posts" {
		t.Fatalf("calls ledger mismatch: %+v", tr.Calls)
	}

	// Both hops are on the final stack, and the callee's log entry merged in.
	wantHops := map[transport.Hop]bool{
		{Service: "users", Version: "1.0.0", Action: "profile"}: false,
		{Service: "posts", Version: "1.0.0", Action: "list"}:    false,
	}
	for _, hop := range tr.Stack {
		wantHops[hop] = true
	}
	for hop, seen := range wantHops {
		if !seen {
			t.Fatalf("hop %v missing from stack %v", hop, tr.Stack)
		}
	}
	if len(tr.Logs) != 1 {
		t.Fatalf("expect callee log entry in merged transport, got %+v", tr.Logs)
	}

	if err := users.Shutdown(time.Second); err != nil {
		t.Fatalf("users Shutdown failed: %v", err)
	}
	if err := posts.Shutdown(time.Second); err != nil {
		t.Fatalf("posts Shutdown failed: %v", err)
	}
	<-usersDone
	<-postsDone
}
