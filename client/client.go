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
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/httpwire/httpwire/codec"
	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/headers"
	"github.com/httpwire/httpwire/internal/rescue"
	"github.com/httpwire/httpwire/logger"
	"github.com/httpwire/httpwire/transport"
)

func newError(format string, args ...any) error {
	format = "http/client: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrInvalidArgs 参数不合法
	ErrInvalidArgs = newError("invalid arguments")

	// ErrInvalidState 当前状态不允许此操作
	ErrInvalidState = newError("invalid state")
)

var (
	requestsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "client",
			Name:      "requests_sent_total",
			Help:      "http requests sent total",
		},
	)
	sendFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "client",
			Name:      "send_failed_total",
			Help:      "http request send failures total",
		},
	)
	droppedResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "client",
			Name:      "responses_dropped_total",
			Help:      "http responses without matched pending request total",
		},
	)
)

// Result 经由回调投递的客户端结果码
type Result uint8

const (
	ResultOK Result = iota
	ResultInvalidArg
	ResultError
	ResultOpenFailed
	ResultSendFailed
	ResultAlreadyInit
	ResultHeadersFailed
	ResultInvalidState
	ResultDisconnection
	ResultMemory
)

var resultNames = map[Result]string{
	ResultOK:            "OK",
	ResultInvalidArg:    "INVALID_ARG",
	ResultError:         "ERROR",
	ResultOpenFailed:    "OPEN_FAILED",
	ResultSendFailed:    "SEND_FAILED",
	ResultAlreadyInit:   "ALREADY_INIT",
	ResultHeadersFailed: "HTTP_HEADERS_FAILED",
	ResultInvalidState:  "INVALID_STATE",
	ResultDisconnection: "DISCONNECTION",
	ResultMemory:        "MEMORY",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// OnOpenComplete 连接建立完成回调
type OnOpenComplete func(result Result)

// OnError 异步错误回调 触发后客户端回到未连接状态 可重新 Open
type OnError func(result Result)

// OnClose 连接关闭完成回调
type OnClose func()

// OnResponse 响应完成回调
//
// hdr 与 body 的所有权仅在回调期间属于调用方 如需持有请先拷贝
// 解析失败时 result 为 ResultError 且 hdr/body 为 nil
type OnResponse func(result Result, statusCode int, hdr *headers.Headers, body []byte)

// state 客户端连接状态
type state uint8

const (
	// stateNotConn 未连接 初始态 也是 close/error 交付后的回归态
	stateNotConn state = iota

	// stateOpening Open 已发起 等待 transport 结果
	stateOpening

	// stateOpened transport 已就绪 等待下一个 tick 向用户交付
	stateOpened

	// stateOpen 连接可用 tick 时排空请求队列
	stateOpen

	// stateClosing Close 已发起 等待 transport 结果
	stateClosing

	// stateClosed transport 已关闭 等待下一个 tick 向用户交付
	stateClosed

	// stateError 错误挂起 下一个 tick 交付错误回调后回归未连接
	stateError
)

// Client 非阻塞 HTTP1.1 客户端
//
// 客户端自身不持有任何 goroutine 也从不阻塞
// 所有进度由调用方反复调用 ProcessItem 驱动 回调只会在 tick 内触发
// 不会在 Open/Close/Execute 等调用内重入
//
// 请求队列与响应配对遵循严格的 FIFO
// 第 N 个成功发出的请求恰好对应第 N 个解析完成的响应
//
// Client 非并发安全 多线程使用需自行串行化
type Client struct {
	transport transport.Transport
	decoder   *codec.Decoder

	state      state
	currResult Result

	// queue 同时承载待发送与待响应的请求记录
	// [0:nextSend) 已发送等待响应 [nextSend:] 尚未发送
	// 响应到达时从队首出队 发送从 nextSend 处推进
	queue    []*request
	nextSend int

	onOpen  OnOpenComplete
	onError OnError
	onClose OnClose

	traceOn bool
}

// New 创建并返回 Client 实例
//
// options 透传给内部的 decoder
func New(options common.Options) *Client {
	c := &Client{}
	c.decoder = codec.New(c.onDecodedResponse, options)
	return c
}

// Destroy 释放客户端持有的资源 丢弃所有未完成的请求
func (c *Client) Destroy() {
	if c == nil {
		return
	}
	_ = c.decoder.Reinitialize()
	c.queue = nil
	c.nextSend = 0
	c.transport = nil
	c.state = stateNotConn
}

// Open 发起连接 仅在未连接状态下允许
//
// onOpen/onError 均在之后的 ProcessItem 内触发 而非本调用内
func (c *Client) Open(t transport.Transport, onOpen OnOpenComplete, onError OnError) error {
	if c == nil || t == nil {
		return ErrInvalidArgs
	}
	if c.state != stateNotConn {
		return ErrInvalidState
	}

	cb := transport.Callbacks{
		OnBytesReceived: c.decoder.Write,
		OnIOError:       c.onIOError,
	}
	if err := t.Open(cb, c.onOpenComplete); err != nil {
		return errors.Wrap(err, "open transport")
	}

	c.transport = t
	c.onOpen = onOpen
	c.onError = onError
	c.state = stateOpening
	return nil
}

// Close 发起关闭 onClose 在之后的 ProcessItem 内触发
//
// 错误挂起等没有存活连接的状态下直接塌缩回未连接并立即返回
func (c *Client) Close(onClose OnClose) error {
	if c == nil {
		return ErrInvalidArgs
	}
	if c.state == stateNotConn {
		return ErrInvalidState
	}

	c.onClose = onClose
	switch c.state {
	case stateOpening, stateOpened, stateOpen:
		if err := c.transport.Close(c.onCloseComplete); err != nil {
			c.state = stateError
			c.currResult = ResultError
			return errors.Wrap(err, "close transport")
		}
		c.state = stateClosing
	default:
		c.state = stateNotConn
	}
	return nil
}

// Execute 提交一个请求
//
// 请求进入队列 在连接进入可用状态后的 tick 中按提交顺序发出
// hdr 为 nil 时临时创建一个空 header 集合用于构造 header 区
// body 会被拷贝 onResponse 在配对的响应解析完成后触发
func (c *Client) Execute(method Method, path string, hdr *headers.Headers, body []byte, onResponse OnResponse) error {
	if c == nil || path == "" || onResponse == nil {
		return ErrInvalidArgs
	}
	if c.state == stateNotConn || c.transport == nil {
		return ErrInvalidState
	}
	if _, ok := methodNames[method]; !ok {
		return ErrInvalidArgs
	}

	if hdr == nil {
		hdr = headers.New()
	}

	host, port := c.transport.Endpoint()
	blk, err := buildHeaderBlock(hdr, len(body), host, port)
	if err != nil {
		return errors.Wrap(err, "build header block")
	}

	req := &request{
		id:          uuid.New().String(),
		method:      method,
		path:        path,
		headerBlock: blk,
		onResponse:  onResponse,
	}
	if len(body) > 0 {
		req.body = append([]byte(nil), body...)
	}

	c.queue = append(c.queue, req)
	if c.traceOn {
		logger.Debugf("request (%s) %s %s enqueued", req.id, method, path)
	}
	return nil
}

// SetTrace 开启或关闭请求与响应的报文日志
func (c *Client) SetTrace(on bool) error {
	if c == nil {
		return ErrInvalidArgs
	}
	c.traceOn = on
	c.decoder.SetTrace(on)
	return nil
}

// ProcessItem 驱动一次处理
//
// 先推进 transport 的 IO 进度 期间接收的字节会进入 decoder
// 并可能触发响应配对 然后根据当前状态交付用户回调或排空请求队列
func (c *Client) ProcessItem() {
	if c == nil {
		return
	}
	if c.transport != nil {
		c.transport.ProcessItem()
	}

	switch c.state {
	case stateOpening, stateClosing:

	case stateOpened:
		c.state = stateOpen
		c.invokeOpen(ResultOK)

	case stateOpen:
		c.drainRequests()

	case stateClosed:
		c.state = stateNotConn
		c.invokeClose()

	case stateError:
		result := c.currResult
		c.state = stateNotConn
		c.invokeError(result)
	}
}

// drainRequests 按提交顺序发出所有尚未发送的请求
func (c *Client) drainRequests() {
	for c.nextSend < len(c.queue) {
		req := c.queue[c.nextSend]
		if err := c.sendRequest(req); err != nil {
			sendFailedTotal.Inc()
			logger.Errorf("send request (%s) failed: %v", req.id, err)
			c.state = stateError
			c.currResult = ResultSendFailed
			return
		}
		requestsSentTotal.Inc()
		c.nextSend++
	}
}

// sendRequest 构造报文并发出 header 与 body 分两次写
func (c *Client) sendRequest(req *request) error {
	msg, err := buildWireMessage(req.method, req.path, req.headerBlock)
	if err != nil {
		return err
	}

	if err := c.transport.Send(msg, c.onSendComplete); err != nil {
		return err
	}
	if c.traceOn {
		logger.Debugf("==> (%s) %s", req.id, msg)
	}

	if len(req.body) > 0 {
		if err := c.transport.Send(req.body, c.onSendComplete); err != nil {
			return err
		}
		if c.traceOn {
			logger.Debugf("==> (%s) %s", req.id, req.body)
		}
	}
	return nil
}

// onDecodedResponse decoder 的完成回调 将响应与队首请求配对
func (c *Client) onDecodedResponse(result codec.Result, resp *codec.Response) {
	if len(c.queue) == 0 {
		droppedResponsesTotal.Inc()
		logger.Errorf("decoded response without pending request, drop it")
		return
	}

	req := c.queue[0]
	c.queue = c.queue[1:]
	if c.nextSend > 0 {
		c.nextSend--
	}

	if result != codec.ResultOK {
		c.invokeResponse(req, ResultError, 0, nil, nil)
		return
	}

	if c.traceOn {
		logger.Debugf("response (%s) status=%d", req.id, resp.StatusCode)
	}
	c.invokeResponse(req, ResultOK, resp.StatusCode, resp.Header, resp.Body)
}

// onOpenComplete transport 的连接结果回调
func (c *Client) onOpenComplete(result transport.OpenResult) {
	if result == transport.OpenOK {
		c.state = stateOpened
		return
	}
	c.state = stateError
	c.currResult = ResultOpenFailed
	logger.Errorf("open connection failed: %s", c.currResult)
}

// onCloseComplete transport 的关闭完成回调
func (c *Client) onCloseComplete() {
	c.state = stateClosed
}

// onSendComplete transport 的发送结果回调 仅失败需要处理
//
// 已回到未连接状态后迟到的结果直接忽略
func (c *Client) onSendComplete(result transport.SendResult) {
	if result == transport.SendOK || c.state == stateNotConn {
		return
	}
	c.state = stateError
	c.currResult = ResultSendFailed
	logger.Errorf("send request failed")
}

// onIOError transport 的 IO 错误回调 错误在下一个 tick 交付用户
func (c *Client) onIOError(kind transport.ErrKind) {
	if c.state == stateNotConn {
		return
	}
	c.state = stateError
	switch kind {
	case transport.ErrMemory:
		c.currResult = ResultMemory
	case transport.ErrServerDisconn:
		c.currResult = ResultDisconnection
	default:
		c.currResult = ResultError
	}
	logger.Errorf("io error: %s", c.currResult)
}

func (c *Client) invokeOpen(result Result) {
	if c.onOpen == nil {
		return
	}
	rescue.Run("open", func() {
		c.onOpen(result)
	})
}

func (c *Client) invokeError(result Result) {
	if c.onError == nil {
		return
	}
	rescue.Run("error", func() {
		c.onError(result)
	})
}

func (c *Client) invokeClose() {
	if c.onClose == nil {
		return
	}
	rescue.Run("close", func() {
		c.onClose()
	})
}

func (c *Client) invokeResponse(req *request, result Result, statusCode int, hdr *headers.Headers, body []byte) {
	rescue.Run("response", func() {
		req.onResponse(result, statusCode, hdr, body)
	})
}
