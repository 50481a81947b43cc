package tcp

import (
	"net"
	"testing"
	"time"
)

func listenLocal(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln, ln.Addr().String()
}

func TestConnectDisconnectIsConnected(t *testing.T) {
	ln, addr := listenLocal(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	c := New(addr, nil)
	if c.IsConnected() {
		t.Fatal("expected a fresh Channel to report not connected")
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Error("expected IsConnected after a successful Connect")
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.IsConnected() {
		t.Error("expected IsConnected to be false after Disconnect")
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("expected a second Disconnect to be a no-op, got %v", err)
	}
}

func TestConnectFailsOnUnreachableAddress(t *testing.T) {
	c := New("127.0.0.1:1", nil)
	if err := c.Connect(); err == nil {
		t.Fatal("expected Connect to fail against a closed port")
	}
}

func TestWriteBufferRoundTripsBytes(t *testing.T) {
	ln, addr := listenLocal(t)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	c := New(addr, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.WriteBuffer([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	select {
	case got := <-received:
		if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
			t.Errorf("unexpected bytes received by peer: % X", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the peer to receive the write")
	}
}

func TestReadBufferDeliversPeerData(t *testing.T) {
	ln, addr := listenLocal(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte{0xAA, 0xBB})
	}()

	c := New(addr, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	out := make([]byte, 4)
	n, err := c.ReadBuffer(out, 2000)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if n != 2 || out[0] != 0xAA || out[1] != 0xBB {
		t.Errorf("unexpected read: n=%d data=% X", n, out[:n])
	}
}

func TestReadBufferTimesOutOnIdlePeer(t *testing.T) {
	ln, addr := listenLocal(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	c := New(addr, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	out := make([]byte, 4)
	_, err := c.ReadBuffer(out, 50)
	if err == nil {
		t.Fatal("expected a read timeout error")
	}
}

func TestReadWriteOnDisconnectedChannelErrors(t *testing.T) {
	c := New("127.0.0.1:0", nil)
	if _, err := c.ReadBuffer(make([]byte, 4), 100); err == nil {
		t.Error("expected ReadBuffer to error before Connect")
	}
	if err := c.WriteBuffer([]byte{1}); err == nil {
		t.Error("expected WriteBuffer to error before Connect")
	}
}

func TestCancelMarksCheckCancelled(t *testing.T) {
	c := New("127.0.0.1:0", nil)
	if err := c.CheckCancelled(); err != nil {
		t.Fatalf("expected a fresh Channel to not be cancelled, got %v", err)
	}
	c.Cancel()
	if err := c.CheckCancelled(); err == nil {
		t.Error("expected CheckCancelled to report the cancellation")
	}
}
