package conn

import (
	"testing"
	"time"

	"github.com/PapiCZ/nachosgo/network"
	"github.com/PapiCZ/nachosgo/postoffice"
)

func fakeClock() int64 { return 1 }

func TestConnectListenEstablishesMatchingEndpoints(t *testing.T) {
	medium := network.NewMedium()
	netA := medium.Attach(1, 1.0, 1)
	netB := medium.Attach(2, 1.0, 2)
	poA := postoffice.New(1, netA)
	poB := postoffice.New(2, netB)
	defer poA.Close()
	defer poB.Close()

	serverConn := make(chan *Connection, 1)
	go func() {
		c, err := Listen(poB)
		if err != nil {
			t.Error(err)
			return
		}
		serverConn <- c
	}()

	time.Sleep(20 * time.Millisecond)
	clientConn, err := Connect(poA, 2, fakeClock)
	if err != nil {
		t.Fatal(err)
	}

	var sc *Connection
	select {
	case sc = <-serverConn:
	case <-time.After(time.Second):
		t.Fatal("Listen never returned")
	}

	if clientConn.PeerAddr != 2 {
		t.Fatalf("expected client peer addr 2, got %d", clientConn.PeerAddr)
	}
	if sc.PeerAddr != 1 {
		t.Fatalf("expected server peer addr 1, got %d", sc.PeerAddr)
	}
	if clientConn.PeerBox != sc.Box {
		t.Fatalf("expected client's peer box (%d) to equal server's own box (%d)", clientConn.PeerBox, sc.Box)
	}
	if sc.PeerBox != clientConn.Box {
		t.Fatalf("expected server's peer box (%d) to equal client's own box (%d)", sc.PeerBox, clientConn.Box)
	}
}

func TestConnectRefusesSelf(t *testing.T) {
	medium := network.NewMedium()
	net := medium.Attach(1, 1.0, 1)
	po := postoffice.New(1, net)
	defer po.Close()

	if _, err := Connect(po, 1, fakeClock); err == nil {
		t.Fatal("expected SelfConnect error when connecting to own address")
	}
}

func TestSendReceiveAfterConnectRoundTrips(t *testing.T) {
	medium := network.NewMedium()
	netA := medium.Attach(1, 1.0, 1)
	netB := medium.Attach(2, 1.0, 2)
	poA := postoffice.New(1, netA)
	poB := postoffice.New(2, netB)
	defer poA.Close()
	defer poB.Close()

	serverConn := make(chan *Connection, 1)
	go func() {
		c, _ := Listen(poB)
		serverConn <- c
	}()
	time.Sleep(20 * time.Millisecond)

	clientConn, err := Connect(poA, 2, fakeClock)
	if err != nil {
		t.Fatal(err)
	}
	sc := <-serverConn

	msg := []byte("ping")
	done := make(chan error, 1)
	go func() { done <- clientConn.Send(msg) }()

	got := sc.Receive(len(msg))
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	clientConn.Disconnect()
	sc.Disconnect()
}
