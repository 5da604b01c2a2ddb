package upload

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeConn(t *testing.T) (*Conn, net.Conn) {
	client, device := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		device.Close()
	})
	return NewNetConn(client), device
}

func TestConnReadLine(t *testing.T) {
	conn, device := newPipeConn(t)
	go fmt.Fprint(device, "  READY\r\nOK 12\n")

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "READY", line)

	line, err = conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK 12", line)
}

func TestConnReadLineTimeout(t *testing.T) {
	conn, _ := newPipeConn(t)
	_, err := conn.ReadLine(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConnReadLineAfterTimeout(t *testing.T) {
	conn, device := newPipeConn(t)
	_, err := conn.ReadLine(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	go fmt.Fprint(device, "READY\n")
	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "READY", line)
}

func TestConnReadLineLastLineWithoutNewline(t *testing.T) {
	conn, device := newPipeConn(t)
	go func() {
		fmt.Fprint(device, "OK")
		device.Close()
	}()
	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", line)

	_, err = conn.ReadLine(time.Second)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnReadLineKeepsPartialLine(t *testing.T) {
	conn, device := newPipeConn(t)
	go func() {
		fmt.Fprint(device, "REA")
		time.Sleep(80 * time.Millisecond)
		fmt.Fprint(device, "DY\n")
	}()

	_, err := conn.ReadLine(30 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "READY", line)
}

func TestConnReadBlockReturnsPartialLine(t *testing.T) {
	conn, device := newPipeConn(t)
	go fmt.Fprint(device, "  index.html")

	_, err := conn.ReadLine(30 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	block, err := conn.ReadBlock(4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "  in", block)
	block, err = conn.ReadBlock(4096, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "dex.html", block)
}

func TestConnReadAfterPeerClosed(t *testing.T) {
	conn, device := newPipeConn(t)
	require.NoError(t, device.Close())

	_, err := conn.ReadLine(time.Second)
	assert.ErrorIs(t, err, io.EOF)
	_, err = conn.ReadBlock(64, time.Second)
	assert.ErrorIs(t, err, io.EOF)
	lines, err := conn.Drain(time.Second)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestConnSend(t *testing.T) {
	conn, device := newPipeConn(t)
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := device.Read(buf)
		got <- buf[:n]
	}()
	require.NoError(t, conn.Send([]byte("LIST\n")))
	assert.Equal(t, []byte("LIST\n"), <-got)
}

func TestConnSendClosed(t *testing.T) {
	conn, device := newPipeConn(t)
	device.Close()
	assert.Error(t, conn.Send([]byte("LIST\n")))
}

func TestConnDrain(t *testing.T) {
	conn, device := newPipeConn(t)
	go fmt.Fprint(device, "/index.html\n/app.css\n")

	lines, err := conn.Drain(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"/index.html", "/app.css"}, lines)
}

func TestConnDrainEOF(t *testing.T) {
	conn, device := newPipeConn(t)
	go func() {
		fmt.Fprint(device, "/index.html\n")
		device.Close()
	}()
	lines, err := conn.Drain(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"/index.html"}, lines)
}

func TestConnReadBlock(t *testing.T) {
	conn, device := newPipeConn(t)
	go fmt.Fprint(device, "  index.html\n  app.css\nFiles listed above\n")

	block, err := conn.ReadBlock(4096, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "  index.html\n  app.css\nFiles listed above\n", block)

	_, err = conn.ReadBlock(4096, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
