package netio

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return
}

func TestReadLine(t *testing.T) {
	client, server := pipe(t)
	go func() {
		_, _ = client.Write([]byte("GET / HTTP/1.0\r\n"))
	}()

	bc := New(server)
	line, err := bc.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.0\r\n", line)
}

func TestReadLineEOF(t *testing.T) {
	client, server := pipe(t)
	_ = client.Close()

	bc := New(server)
	_, err := bc.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLineTooLong(t *testing.T) {
	client, server := pipe(t)
	go func() {
		buf := make([]byte, MaxLineLength+10)
		for i := range buf {
			buf[i] = 'a'
		}
		_, _ = client.Write(buf)
	}()

	bc := New(server)
	_, err := bc.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadBlock(t *testing.T) {
	client, server := pipe(t)
	payload := []byte("hello world")
	go func() {
		_, _ = client.Write(payload)
	}()

	bc := New(server)
	buf := make([]byte, 64)
	n, err := bc.ReadBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestReadBlockEOF(t *testing.T) {
	client, server := pipe(t)
	_ = client.Close()

	bc := New(server)
	buf := make([]byte, 16)
	n, err := bc.ReadBlock(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteAll(t *testing.T) {
	client, server := pipe(t)
	payload := []byte("the quick brown fox")

	done := make(chan struct{})
	var got []byte
	go func() {
		defer close(done)
		got = make([]byte, len(payload))
		_, _ = io.ReadFull(client, got)
	}()

	bc := New(server)
	require.NoError(t, bc.WriteAll(payload))
	<-done
	assert.Equal(t, payload, got)
}

func TestWriteAllClosedPeer(t *testing.T) {
	client, server := pipe(t)
	_ = client.Close()

	bc := New(server)
	err := bc.WriteAll([]byte("x"))
	assert.Error(t, err)
}
