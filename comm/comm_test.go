package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/scopelab/rigolab/comm"
)

func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(io.Discard, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestPoolGivesOutToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	for i := 0; i < 3; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatal("could not get connection:", err)
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 connections on lease, got %d", pool.Active())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected one connection to be made and reused, made %d", made)
	}
	if pool.Size() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Size())
	}
}

func TestPoolReleasesExpiredConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(2, 10*time.Millisecond, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(200 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connections to be reclaimed, pool size is %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(2, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	for i := 0; i < 2; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatal("could not get connection:", err)
		}
	}
	newConn := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReturnWithErrorDestroys(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, errors.New("bad exchange"))
	if pool.Size() != 0 {
		t.Errorf("expected errored connection to be destroyed, pool size is %d", pool.Size())
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := comm.TCPSetup(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	term := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	if _, err := term.Write([]byte("*IDN?")); err != nil {
		t.Fatal(err)
	}
	line, err := term.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "*IDN?" {
		t.Errorf("expected echo of *IDN?, got %q", line)
	}
}

func TestReadLineSkipsBlankLines(t *testing.T) {
	rw := &bytes.Buffer{}
	rw.WriteString("\n\r\nRIGOL\r\n")
	term := comm.NewTerminator(rw, '\n', '\n')
	line, err := term.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "RIGOL" {
		t.Errorf("expected RIGOL, got %q", line)
	}
}

func TestTimeoutErrorOnSilentRemote(t *testing.T) {
	addr := silentServer(t)
	conn, err := comm.TCPSetup(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	term := comm.NewTerminator(comm.NewTimeout(conn, 50*time.Millisecond), '\n', '\n')
	term.Write([]byte(":WAVeform:DATA?"))
	_, err = term.ReadLine()
	var terr *comm.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a *comm.TimeoutError, got %v", err)
	}
	if terr.Op != "read" {
		t.Errorf("expected read timeout, got %s", terr.Op)
	}
}

// eofPort behaves like a serial port whose read timeout expired: it has no
// deadlines and answers every read with (0, io.EOF) once drained
type eofPort struct {
	bytes.Buffer
}

func TestTimeoutErrorOnExpiredSerialRead(t *testing.T) {
	port := &eofPort{}
	port.WriteString("1,\"partial")
	term := comm.NewTerminator(comm.NewTimeout(port, 20*time.Millisecond), '\n', '\n')
	_, err := term.ReadLine()
	var terr *comm.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a *comm.TimeoutError, got %v", err)
	}
	if terr.Deadline != 20*time.Millisecond || !terr.Timeout() {
		t.Errorf("unexpected timeout error %+v", terr)
	}
}
