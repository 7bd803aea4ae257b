package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/subscription-broker/internal/broker/codec"
	"github.com/adred-codev/subscription-broker/internal/broker/config"
	"github.com/adred-codev/subscription-broker/internal/broker/metrics"
)

func testServer(t *testing.T) (*Server, context.Context, context.CancelFunc) {
	t.Helper()
	cfg := &config.OperatorConfig{
		EventQueueDepth:     64,
		SubscribeBurst:      1000,
		SubscribeRatePerSec: 1000,
		DatagramBurst:       1000,
		DatagramRatePerSec:  1000,
		ControlWriteTimeout: 2 * time.Second,
	}
	m, _ := metrics.New()
	s := New(zerolog.Nop(), cfg, m)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	s.tcpListener = ln
	s.udpConn = udp

	ctx, cancel := context.WithCancel(context.Background())
	go s.dispatch(ctx)
	return s, ctx, cancel
}

func login(t *testing.T, s *Server, id string) (server, client net.Conn) {
	t.Helper()
	server, client = net.Pipe()
	ip, port, _ := splitHostPort(&net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9000})
	s.events <- acceptEvent{conn: server, id: id, remoteIP: ip, remotePort: port}
	reply, err := codec.ReadControlFrame(client)
	if err != nil || reply.Message != "Success" {
		t.Fatalf("login reply = %+v, err = %v, want Success", reply, err)
	}
	return server, client
}

func TestLoginSubscribeDeliver(t *testing.T) {
	s, _, cancel := testServer(t)
	defer cancel()

	server, client := login(t, s, "alice")
	defer server.Close()
	defer client.Close()

	if err := codec.WriteControlFrame(client, "subscribe sensors/+"); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	go s.streamReader(server)

	reply, err := codec.ReadControlFrame(client)
	if err != nil || reply.Message != "Success" {
		t.Fatalf("subscribe reply = %+v, err = %v", reply, err)
	}

	payload := codec.EncodeIntPayload(false, 42)
	raw, err := codec.EncodeDatagram("sensors/temp", codec.TypeInt, payload)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	s.events <- datagramEvent{data: raw, addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 40001}}

	notif, err := codec.ReadControlFrame(client)
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}
	want := "10.0.0.7:40001 - sensors/temp - INT - 42"
	if notif.Message != want {
		t.Fatalf("notification = %q, want %q", notif.Message, want)
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	s, _, cancel := testServer(t)
	defer cancel()

	server1, client1 := login(t, s, "alice")
	defer server1.Close()
	defer client1.Close()
	go s.streamReader(server1)

	server2, client2 := net.Pipe()
	defer server2.Close()
	s.events <- acceptEvent{conn: server2, id: "alice", remoteIP: "10.0.0.9", remotePort: 1234}

	reply, err := codec.ReadControlFrame(client2)
	if err != nil || reply.Message != "Quit" {
		t.Fatalf("duplicate login reply = %+v, err = %v, want Quit", reply, err)
	}
}

func TestReconnectPreservesSubscriptions(t *testing.T) {
	s, _, cancel := testServer(t)
	defer cancel()

	server1, client1 := login(t, s, "alice")
	if err := codec.WriteControlFrame(client1, "subscribe sensors/temp"); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	go s.streamReader(server1)
	if _, err := codec.ReadControlFrame(client1); err != nil {
		t.Fatalf("read subscribe reply: %v", err)
	}

	client1.Close()
	server1.Close()
	time.Sleep(50 * time.Millisecond) // let streamClosedEvent land on the dispatcher

	server2, client2 := net.Pipe()
	defer server2.Close()
	defer client2.Close()
	s.events <- acceptEvent{conn: server2, id: "alice", remoteIP: "10.0.0.6", remotePort: 9100}
	reply, err := codec.ReadControlFrame(client2)
	if err != nil || reply.Message != "Success" {
		t.Fatalf("reconnect reply = %+v, err = %v, want Success", reply, err)
	}
	go s.streamReader(server2)

	payload := codec.EncodeIntPayload(false, 7)
	raw, _ := codec.EncodeDatagram("sensors/temp", codec.TypeInt, payload)
	s.events <- datagramEvent{data: raw, addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}}

	notif, err := codec.ReadControlFrame(client2)
	if err != nil {
		t.Fatalf("read notification after reconnect: %v", err)
	}
	want := "10.0.0.1:1 - sensors/temp - INT - 7"
	if notif.Message != want {
		t.Fatalf("notification = %q, want %q (subscription must survive reconnect)", notif.Message, want)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, _, cancel := testServer(t)
	defer cancel()

	server, client := login(t, s, "alice")
	defer server.Close()
	defer client.Close()
	go s.streamReader(server)

	codec.WriteControlFrame(client, "subscribe sensors/temp")
	codec.ReadControlFrame(client)
	codec.WriteControlFrame(client, "unsubscribe sensors/temp")
	reply, err := codec.ReadControlFrame(client)
	if err != nil || reply.Message != "Success" {
		t.Fatalf("unsubscribe reply = %+v, err = %v", reply, err)
	}

	payload := codec.EncodeIntPayload(false, 1)
	raw, _ := codec.EncodeDatagram("sensors/temp", codec.TypeInt, payload)
	s.events <- datagramEvent{data: raw, addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}}

	// No notification should ever arrive now; give the dispatcher a beat
	// to have processed the datagram, then confirm nothing is pending by
	// racing a short read deadline.
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = codec.ReadControlFrame(client)
	if err == nil {
		t.Fatal("expected no notification after unsubscribe")
	}
}
