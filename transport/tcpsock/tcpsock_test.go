// Copyright 2025 The httpwire Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcpsock

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpwire/httpwire/client"
	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/headers"
	"github.com/httpwire/httpwire/transport"
)

const tickInterval = time.Millisecond

// echoServer 接受一条连接 读到完整请求后写入 response
//
// 连接保持打开直到 done 关闭 避免客户端读到过早的 EOF
func echoServer(t *testing.T, response string, done chan struct{}) (string, uint16) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		defer l.Close()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		var req []byte
		for !bytes.Contains(req, []byte("\r\n\r\n")) {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			req = append(req, buf[:n]...)
		}

		if _, err := conn.Write([]byte(response)); err != nil {
			return
		}
		<-done
	}()

	port := uint16(l.Addr().(*net.TCPAddr).Port)
	return "127.0.0.1", port
}

func drive(t *testing.T, tick func(), cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.False(t, time.Now().After(deadline), "timed out driving ticks")
		tick()
		time.Sleep(tickInterval)
	}
}

func TestOpenSendReceive(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	response := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	host, port := echoServer(t, response, done)

	tr := New(Config{Host: host, Port: port})

	var received []byte
	var opened bool
	cb := transport.Callbacks{
		OnBytesReceived: func(p []byte) {
			received = append(received, p...)
		},
		OnIOError: func(kind transport.ErrKind) {
			t.Errorf("unexpected io error: %d", kind)
		},
	}
	require.NoError(t, tr.Open(cb, func(result transport.OpenResult) {
		require.Equal(t, transport.OpenOK, result)
		opened = true
	}))

	drive(t, tr.ProcessItem, func() bool { return opened })

	var sent bool
	require.NoError(t, tr.Send([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), func(result transport.SendResult) {
		require.Equal(t, transport.SendOK, result)
		sent = true
	}))

	drive(t, tr.ProcessItem, func() bool {
		return sent && len(received) == len(response)
	})
	assert.Equal(t, response, string(received))

	var closed bool
	require.NoError(t, tr.Close(func() { closed = true }))
	drive(t, tr.ProcessItem, func() bool { return closed })
}

func TestDialFailure(t *testing.T) {
	// 监听后立即关闭 拿到一个当前无人监听的端口
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	tr := New(Config{Host: "127.0.0.1", Port: port, DialTimeout: time.Second})

	var result *transport.OpenResult
	require.NoError(t, tr.Open(transport.Callbacks{}, func(r transport.OpenResult) {
		result = &r
	}))

	drive(t, tr.ProcessItem, func() bool { return result != nil })
	assert.Equal(t, transport.OpenFailed, *result)
}

func TestServerDisconnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	tr := New(Config{Host: "127.0.0.1", Port: uint16(l.Addr().(*net.TCPAddr).Port)})

	var kind *transport.ErrKind
	var opened bool
	cb := transport.Callbacks{
		OnIOError: func(k transport.ErrKind) {
			kind = &k
		},
	}
	require.NoError(t, tr.Open(cb, func(result transport.OpenResult) {
		require.Equal(t, transport.OpenOK, result)
		opened = true
	}))

	drive(t, tr.ProcessItem, func() bool { return opened })
	drive(t, tr.ProcessItem, func() bool { return kind != nil })
	assert.Equal(t, transport.ErrServerDisconn, *kind)
}

func TestSendNotConnected(t *testing.T) {
	tr := New(Config{Host: "127.0.0.1", Port: 1})
	assert.ErrorIs(t, tr.Send([]byte("x"), nil), ErrNotConnected)
}

// TestClientRoundTrip 端到端 客户端经由真实 TCP 完成一次请求来回
func TestClientRoundTrip(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	response := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 9\r\n" +
		"\r\n" +
		`{"k":"v"}`
	host, port := echoServer(t, response, done)

	c := client.New(common.NewOptions())
	defer c.Destroy()

	var gotStatus int
	var gotBody string
	var answered bool

	onResponse := func(result client.Result, statusCode int, hdr *headers.Headers, body []byte) {
		require.Equal(t, client.ResultOK, result)
		gotStatus = statusCode
		gotBody = string(body)
		answered = true
	}

	onOpen := func(result client.Result) {
		require.Equal(t, client.ResultOK, result)
		require.NoError(t, c.Execute(client.MethodGet, "/kv", nil, nil, onResponse))
	}

	onError := func(result client.Result) {
		if !answered {
			t.Errorf("unexpected error callback: %s", result)
		}
	}

	tr := New(Config{Host: host, Port: port})
	require.NoError(t, c.Open(tr, onOpen, onError))

	drive(t, c.ProcessItem, func() bool { return answered })
	assert.Equal(t, 200, gotStatus)
	assert.Equal(t, `{"k":"v"}`, gotBody)

	var closed bool
	require.NoError(t, c.Close(func() { closed = true }))
	drive(t, c.ProcessItem, func() bool { return closed })
}
