package producer

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetproxy/geoproxy/internal/auth"
)

func TestSendAPIKeyFrameWireFormat(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	done := make(chan struct {
		ok  bool
		err error
	}, 1)
	go func() {
		ok, err := sendAPIKeyFrame(local, "VALID")
		done <- struct {
			ok  bool
			err error
		}{ok, err}
	}()

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(remote, lenBuf); err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(lenBuf); got != 5 {
		t.Fatalf("key length prefix = %d, want 5", got)
	}
	key := make([]byte, 5)
	if _, err := io.ReadFull(remote, key); err != nil {
		t.Fatal(err)
	}
	if string(key) != "VALID" {
		t.Fatalf("key = %q, want VALID", key)
	}
	if _, err := remote.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}

	result := <-done
	if result.err != nil {
		t.Fatalf("sendAPIKeyFrame error: %v", result.err)
	}
	if !result.ok {
		t.Fatal("sendAPIKeyFrame() ok=false, want true for status byte 1")
	}
}

func TestVerifyInnerCredentials(t *testing.T) {
	ctx := context.Background()

	lenient := &Producer{EnforceGatewayCreds: false}
	if !lenient.verifyInnerCredentials(ctx, "anything", "whatever") {
		t.Fatal("ceremonial mode should accept any credentials")
	}

	strict := &Producer{
		EnforceGatewayCreds: true,
		GatewayAuth:         auth.NewStaticService(map[string]string{"gateway": "gateway"}, nil),
	}
	if !strict.verifyInnerCredentials(ctx, "gateway", "gateway") {
		t.Fatal("strict mode should accept the fixed gateway pair")
	}
	if strict.verifyInnerCredentials(ctx, "gateway", "wrong") {
		t.Fatal("strict mode should reject a mismatched password")
	}

	noAuth := &Producer{EnforceGatewayCreds: true}
	if noAuth.verifyInnerCredentials(ctx, "gateway", "gateway") {
		t.Fatal("strict mode with no GatewayAuth configured should reject everything")
	}
}

func TestServeSessionHappyPath(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upstream.Close()

	go func() {
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	relayLocal, gateway := net.Pipe()

	p := &Producer{Log: zerolog.Nop()}
	sessionDone := make(chan struct{})
	go func() {
		p.serveSession(context.Background(), 0, relayLocal)
		close(sessionDone)
	}()

	// Drive the gateway side through the SOCKS5 client role by hand.
	if _, err := gateway.Write([]byte{5, 1, 2}); err != nil {
		t.Fatal(err)
	}
	method := make([]byte, 2)
	if _, err := io.ReadFull(gateway, method); err != nil {
		t.Fatal(err)
	}
	if method[0] != 5 || method[1] != 2 {
		t.Fatalf("method response = %v, want [5 2]", method)
	}

	authFrame := []byte{1, byte(len("gateway")), 'g', 'a', 't', 'e', 'w', 'a', 'y', byte(len("gateway")), 'g', 'a', 't', 'e', 'w', 'a', 'y'}
	if _, err := gateway.Write(authFrame); err != nil {
		t.Fatal(err)
	}
	authResp := make([]byte, 2)
	if _, err := io.ReadFull(gateway, authResp); err != nil {
		t.Fatal(err)
	}
	if authResp[1] != 0 {
		t.Fatalf("auth status = %d, want 0 (ok)", authResp[1])
	}

	addr := upstream.Addr().(*net.TCPAddr)
	req := make([]byte, 10)
	req[0], req[1], req[2], req[3] = 5, 1, 0, 1
	copy(req[4:8], addr.IP.To4())
	binary.BigEndian.PutUint16(req[8:10], uint16(addr.Port))
	if _, err := gateway.Write(req); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 10)
	if _, err := io.ReadFull(gateway, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0 {
		t.Fatalf("reply REP = %d, want 0 (success)", reply[1])
	}

	payload := []byte("ping")
	if _, err := gateway.Write(payload); err != nil {
		t.Fatal(err)
	}
	echoed := make([]byte, len(payload))
	gateway.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(gateway, echoed); err != nil {
		t.Fatalf("did not receive echoed payload: %v", err)
	}
	if string(echoed) != "ping" {
		t.Fatalf("echoed = %q, want ping", echoed)
	}

	gateway.Close()
	select {
	case <-sessionDone:
	case <-time.After(2 * time.Second):
		t.Fatal("serveSession did not exit after peer close")
	}
}
