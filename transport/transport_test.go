package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestConn_OpenAndReceiveData(t *testing.T) {
	ln := listenLoopback(t)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		nc.Write([]byte("220 hello\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var opened bool
	received := make(chan []byte, 1)
	c.OnOpen(func() { opened = true })
	c.OnData(func(b []byte) { received <- b })

	done := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(done)
	}()

	select {
	case b := <-received:
		require.Equal(t, "220 hello\r\n", string(b))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for data")
	}
	require.True(t, opened)

	c.Close()
	<-done
	<-serverDone
}

func TestConn_SendWritesAndDrains(t *testing.T) {
	ln := listenLoopback(t)

	received := make(chan string, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		buf := make([]byte, 64)
		n, _ := nc.Read(buf)
		received <- string(buf[:n])
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var drained bool
	c.OnDrain(func() { drained = true })

	require.NoError(t, c.Send([]byte("EHLO test\r\n")))
	require.True(t, drained)

	select {
	case got := <-received:
		require.Equal(t, "EHLO test\r\n", got)
	case <-time.After(time.Second):
		t.Fatal("server never received bytes")
	}
}

func TestConn_ErrorThenClose(t *testing.T) {
	ln := listenLoopback(t)

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		nc.Close() // Immediately close, forcing a read error on the client.
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	closeCh := make(chan struct{}, 1)
	c.OnError(func(e error) { errCh <- e })
	c.OnClose(func() { closeCh <- struct{}{} })

	go c.Serve(ctx)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}

	select {
	case <-closeCh:
	case <-time.After(time.Second):
		t.Fatal("expected a close event after error")
	}

	require.Equal(t, StateClosed, c.ReadyState())
}

func TestConn_SuspendStopsDelivery(t *testing.T) {
	ln := listenLoopback(t)

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		nc.Write([]byte("one"))
		time.Sleep(50 * time.Millisecond)
		nc.Write([]byte("two"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	c.Suspend()

	var gotAny bool
	c.OnData(func(b []byte) { gotAny = true })

	go c.Serve(ctx)

	time.Sleep(150 * time.Millisecond)
	require.False(t, gotAny, "no data should be delivered while suspended")

	c.Resume()
	time.Sleep(150 * time.Millisecond)
	require.True(t, gotAny, "data should be delivered after resume")
}

func TestConn_SendOnClosedFails(t *testing.T) {
	ln := listenLoopback(t)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			nc.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	c.Close()

	err = c.Send([]byte("x"))
	require.Error(t, err)
}
