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

package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/headers"
	"github.com/httpwire/httpwire/transport"
)

// fakeTransport 可编排的 transport.Transport 假实现
//
// Open/Close 的完成回调挂起到下一次 ProcessItem 投递
// 发出的报文以拷贝形式记录 便于断言线上字节
type fakeTransport struct {
	host string
	port uint16

	cb     transport.Callbacks
	onOpen func(transport.OpenResult)

	openResult  transport.OpenResult
	openPending bool

	onClose      func()
	closePending bool

	failSend bool
	sends    [][]byte
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{host: "h", port: 80}
}

func (t *fakeTransport) Open(cb transport.Callbacks, onOpenComplete func(transport.OpenResult)) error {
	t.cb = cb
	t.onOpen = onOpenComplete
	t.openPending = true
	return nil
}

func (t *fakeTransport) Close(onCloseComplete func()) error {
	t.onClose = onCloseComplete
	t.closePending = true
	return nil
}

func (t *fakeTransport) Send(p []byte, onSendComplete func(transport.SendResult)) error {
	if t.failSend {
		return fmt.Errorf("send rejected")
	}
	t.sends = append(t.sends, append([]byte(nil), p...))
	if onSendComplete != nil {
		onSendComplete(transport.SendOK)
	}
	return nil
}

func (t *fakeTransport) ProcessItem() {
	if t.openPending {
		t.openPending = false
		if t.onOpen != nil {
			t.onOpen(t.openResult)
		}
	}
	if t.closePending {
		t.closePending = false
		if t.onClose != nil {
			t.onClose()
		}
	}
}

func (t *fakeTransport) Endpoint() (string, uint16) {
	return t.host, t.port
}

func (t *fakeTransport) feed(s string) {
	t.cb.OnBytesReceived([]byte(s))
}

// openedClient 返回已进入可用状态的客户端与其假 transport
func openedClient(t *testing.T) (*Client, *fakeTransport) {
	c := New(common.NewOptions())
	ft := newFakeTransport()

	var openResult *Result
	err := c.Open(ft, func(result Result) {
		openResult = &result
	}, func(result Result) {
		t.Fatalf("unexpected error callback: %s", result)
	})
	require.NoError(t, err)

	c.ProcessItem()
	require.NotNil(t, openResult)
	require.Equal(t, ResultOK, *openResult)
	return c, ft
}

func TestOpenRejectedWhenConnected(t *testing.T) {
	c, _ := openedClient(t)

	err := c.Open(newFakeTransport(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAPIBeforeOpen(t *testing.T) {
	c := New(common.NewOptions())

	err := c.Execute(MethodGet, "/x", nil, nil, func(Result, int, *headers.Headers, []byte) {})
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, c.Close(nil), ErrInvalidState)

	// SetTrace 与 ProcessItem 在任何状态下都可用
	assert.NoError(t, c.SetTrace(true))
	c.ProcessItem()

	var nilc *Client
	nilc.ProcessItem()
	assert.Error(t, nilc.SetTrace(true))
}

func TestRequestWire(t *testing.T) {
	c, ft := openedClient(t)

	hdr := headers.New()
	require.NoError(t, hdr.Add("X-K", "V"))

	require.NoError(t, c.Execute(MethodGet, "/x", hdr, nil, func(Result, int, *headers.Headers, []byte) {}))
	c.ProcessItem()

	require.Len(t, ft.sends, 1)
	assert.Equal(t, "GET /x HTTP/1.1\r\nX-K: V\r\nHost: h:80\r\nContent-Length: 0\r\n\r\n", string(ft.sends[0]))
}

func TestRequestWireWithBody(t *testing.T) {
	c, ft := openedClient(t)

	body := []byte(`{"k":"v"}`)
	require.NoError(t, c.Execute(MethodPost, "/items", nil, body, func(Result, int, *headers.Headers, []byte) {}))
	c.ProcessItem()

	// header 与 body 分两次发出
	require.Len(t, ft.sends, 2)
	assert.Equal(t, "POST /items HTTP/1.1\r\nHost: h:80\r\nContent-Length: 9\r\n\r\n", string(ft.sends[0]))
	assert.Equal(t, string(body), string(ft.sends[1]))
}

func TestHostNotDuplicated(t *testing.T) {
	c, ft := openedClient(t)

	hdr := headers.New()
	require.NoError(t, hdr.Add("host", "other:1234"))

	require.NoError(t, c.Execute(MethodGet, "/", hdr, nil, func(Result, int, *headers.Headers, []byte) {}))
	c.ProcessItem()

	require.Len(t, ft.sends, 1)
	assert.Equal(t, "GET / HTTP/1.1\r\nhost: other:1234\r\nContent-Length: 0\r\n\r\n", string(ft.sends[0]))
}

// TestResponseOrdering 响应回调顺序与提交顺序一致
func TestResponseOrdering(t *testing.T) {
	c, ft := openedClient(t)

	var order []int
	var statuses []int
	for i := 0; i < 3; i++ {
		idx := i
		err := c.Execute(MethodGet, fmt.Sprintf("/%d", i), nil, nil, func(result Result, statusCode int, hdr *headers.Headers, body []byte) {
			order = append(order, idx)
			statuses = append(statuses, statusCode)
		})
		require.NoError(t, err)
	}

	c.ProcessItem()
	require.Len(t, ft.sends, 3)

	for i := 0; i < 3; i++ {
		ft.feed(fmt.Sprintf("HTTP/1.1 20%d OK\r\nContent-Length: 0\r\n\r\n", i))
	}

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, []int{200, 201, 202}, statuses)
}

// TestSubmitBeforeOpen 连接就绪前提交的请求会先排队
func TestSubmitBeforeOpen(t *testing.T) {
	c := New(common.NewOptions())
	ft := newFakeTransport()
	require.NoError(t, c.Open(ft, nil, nil))

	require.NoError(t, c.Execute(MethodGet, "/early", nil, nil, func(Result, int, *headers.Headers, []byte) {}))
	assert.Len(t, ft.sends, 0)

	c.ProcessItem() // open 完成 交付 open 回调
	c.ProcessItem() // 排空队列
	require.Len(t, ft.sends, 1)
	assert.Contains(t, string(ft.sends[0]), "GET /early HTTP/1.1\r\n")
}

// TestOpenFailure 打开失败时恰好交付一次错误回调并回到未连接
func TestOpenFailure(t *testing.T) {
	c := New(common.NewOptions())
	ft := newFakeTransport()
	ft.openResult = transport.OpenFailed

	var errs []Result
	require.NoError(t, c.Open(ft, func(result Result) {
		t.Fatalf("unexpected open callback")
	}, func(result Result) {
		errs = append(errs, result)
	}))

	c.ProcessItem()
	c.ProcessItem()
	require.Equal(t, []Result{ResultOpenFailed}, errs)

	// 已回到未连接状态 可以重新 Open
	assert.NoError(t, c.Open(newFakeTransport(), nil, nil))
}

func TestIOErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		kind   transport.ErrKind
		result Result
	}{
		{name: "disconnection", kind: transport.ErrServerDisconn, result: ResultDisconnection},
		{name: "memory", kind: transport.ErrMemory, result: ResultMemory},
		{name: "generic", kind: transport.ErrGeneric, result: ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(common.NewOptions())
			ft := newFakeTransport()

			var errs []Result
			require.NoError(t, c.Open(ft, nil, func(result Result) {
				errs = append(errs, result)
			}))
			c.ProcessItem()

			ft.cb.OnIOError(tt.kind)
			c.ProcessItem()
			assert.Equal(t, []Result{tt.result}, errs)
		})
	}
}

func TestSendFailure(t *testing.T) {
	c, ft := openedClient(t)
	ft.failSend = true

	var errs []Result
	c.onError = func(result Result) {
		errs = append(errs, result)
	}

	require.NoError(t, c.Execute(MethodGet, "/x", nil, nil, func(Result, int, *headers.Headers, []byte) {}))
	c.ProcessItem()
	c.ProcessItem()
	assert.Equal(t, []Result{ResultSendFailed}, errs)
}

// TestDecodeFailureNotifiesRequester 解析失败也要通知等待方
func TestDecodeFailureNotifiesRequester(t *testing.T) {
	c, ft := openedClient(t)

	var results []Result
	var bodies [][]byte
	err := c.Execute(MethodGet, "/x", nil, nil, func(result Result, statusCode int, hdr *headers.Headers, body []byte) {
		results = append(results, result)
		bodies = append(bodies, body)
	})
	require.NoError(t, err)
	c.ProcessItem()

	ft.feed("bogus\r\n")
	require.Equal(t, []Result{ResultError}, results)
	assert.Nil(t, bodies[0])
}

func TestResponseWithoutPendingRequest(t *testing.T) {
	_, ft := openedClient(t)

	// 没有挂起请求时响应被丢弃 不允许崩溃
	ft.feed("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
}

func TestCloseFlow(t *testing.T) {
	c, _ := openedClient(t)

	var closed bool
	require.NoError(t, c.Close(func() {
		closed = true
	}))

	c.ProcessItem()
	c.ProcessItem()
	assert.True(t, closed)

	// 已回到未连接状态
	assert.ErrorIs(t, c.Close(nil), ErrInvalidState)
}

func TestMethodString(t *testing.T) {
	tests := []struct {
		method Method
		want   string
	}{
		{method: MethodOptions, want: "OPTIONS"},
		{method: MethodGet, want: "GET"},
		{method: MethodPost, want: "POST"},
		{method: MethodPut, want: "PUT"},
		{method: MethodDelete, want: "DELETE"},
		{method: MethodPatch, want: "PATCH"},
		{method: Method(99), want: "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.method.String())
	}

	_, err := buildWireMessage(Method(99), "/", nil)
	assert.Error(t, err)
}
