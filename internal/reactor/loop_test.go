package reactor

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestLoopDispatchesReadableOnSingleGoroutine(t *testing.T) {
	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer server.Close()

	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer client.Close()

	loop := New()
	received := make(chan []byte, 1)
	if err := loop.RegisterReadable(server, 1500, func(data []byte, peer net.Addr, err error) {
		received <- append([]byte(nil), data...)
	}); err != nil {
		t.Fatalf("RegisterReadable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	if _, err := client.WriteTo([]byte("ping"), server.LocalAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "ping" {
			t.Errorf("got %q, want %q", data, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched datagram")
	}
}

func TestLoopTimerFiresAndCanBeCancelled(t *testing.T) {
	loop := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	fired := make(chan struct{}, 1)
	loop.ScheduleTimer(20*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	cancelled := make(chan struct{}, 1)
	h := loop.ScheduleTimer(20*time.Millisecond, func() { cancelled <- struct{}{} })
	loop.CancelTimer(h)

	select {
	case <-cancelled:
		t.Fatal("cancelled timer fired anyway")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoopUnregisterStopsDelivery(t *testing.T) {
	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer server.Close()

	loop := New()
	calls := make(chan struct{}, 4)
	loop.RegisterReadable(server, 1500, func(data []byte, peer net.Addr, err error) {
		calls <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	if err := loop.Unregister(server); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	client, _ := net.ListenPacket("udp4", "127.0.0.1:0")
	defer client.Close()
	client.WriteTo([]byte("x"), server.LocalAddr())

	select {
	case <-calls:
		t.Fatal("callback invoked after Unregister")
	case <-time.After(100 * time.Millisecond):
	}
}
