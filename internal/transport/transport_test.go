package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"gpslink/internal/capability"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want Address
	}{
		{"rfcomm://00:21:07:00:0a:34", Address{Scheme: SchemeRFCOMM, Target: "00:21:07:00:0A:34", Channel: 1}},
		{"rfcomm://00:21:07:00:0A:34/3", Address{Scheme: SchemeRFCOMM, Target: "00:21:07:00:0A:34", Channel: 3}},
		{"00:21:07:00:0A:34", Address{Scheme: SchemeRFCOMM, Target: "00:21:07:00:0A:34", Channel: 1}},
		{"serial:///dev/ttyUSB0", Address{Scheme: SchemeSerial, Target: "/dev/ttyUSB0", Baud: 9600}},
		{"serial:///dev/rfcomm0?baud=115200", Address{Scheme: SchemeSerial, Target: "/dev/rfcomm0", Baud: 115200}},
		{"tcp://127.0.0.1:2000", Address{Scheme: SchemeTCP, Target: "127.0.0.1:2000"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			if err != nil {
				t.Fatalf("ParseAddress() error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got=%+v want %+v", got, tc.want)
			}
		})
	}
}

func TestParseAddress_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"nonsense",
		"rfcomm://00:21:07",
		"rfcomm://00:21:07:00:0A:34/99",
		"serial://",
		"serial:///dev/ttyUSB0?baud=fast",
		"tcp://",
	} {
		if _, err := ParseAddress(in); err == nil {
			t.Fatalf("ParseAddress(%q) expected error", in)
		}
	}

	_, err := ParseAddress("usb://thing")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v want %v", err, ErrUnsupported)
	}
}

func TestParseBDAddr_LittleEndian(t *testing.T) {
	got, err := parseBDAddr("00:21:07:00:0A:34")
	if err != nil {
		t.Fatalf("parseBDAddr() error: %v", err)
	}
	want := [6]byte{0x34, 0x0A, 0x00, 0x07, 0x21, 0x00}
	if got != want {
		t.Fatalf("got=% x want % x", got, want)
	}
}

func TestConnectError_IsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ConnectError{Kind: Refused, Addr: "x", Err: syscall.ECONNREFUSED})
	if !errors.Is(err, ErrRefused) {
		t.Fatalf("expected ErrRefused")
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrUnsupported) {
		t.Fatalf("unexpected kind match")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected underlying errno")
	}
}

func TestClassifyConnect(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{syscall.EACCES, capability.ErrPermissionDenied},
		{syscall.EPERM, capability.ErrPermissionDenied},
		{syscall.ENETDOWN, capability.ErrCapabilityDisabled},
		{syscall.EAFNOSUPPORT, ErrUnsupported},
		{syscall.ECONNREFUSED, ErrRefused},
		{syscall.EHOSTDOWN, ErrUnreachable},
		{syscall.ENOENT, ErrUnreachable},
	}
	for _, tc := range cases {
		got := classifyConnect("addr", tc.err)
		if !errors.Is(got, tc.want) {
			t.Fatalf("classify(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestDialTCP_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "tcp://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	peer := <-accepted
	defer peer.Close()

	if _, err := c.Write([]byte("hi\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != "hi\n" {
		t.Fatalf("peer got %q", buf)
	}
}

func TestDialTCP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Dial(context.Background(), "tcp://"+addr)
	if !errors.Is(err, ErrRefused) {
		t.Fatalf("err=%v want %v", err, ErrRefused)
	}
}

func TestNetConn_CloseUnblocksReadWithErrClosed(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a, "pipe")

	done := make(chan error, 1)
	go func() {
		_, err := c.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err=%v want %v", err, ErrClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read did not unblock")
	}
}
