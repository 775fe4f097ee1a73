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
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/logger"
	"github.com/httpwire/httpwire/transport"
)

func newError(format string, args ...any) error {
	format = "transport/tcpsock: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrNotConnected 连接尚未建立
	ErrNotConnected = newError("not connected")

	// ErrOpening 已经有一次 Open 在进行中
	ErrOpening = newError("open already in progress")
)

const defaultDialTimeout = 10 * time.Second

type Config struct {
	Host        string        `config:"host"`
	Port        uint16        `config:"port"`
	DialTimeout time.Duration `config:"dialTimeout"`
}

type dialResult struct {
	conn net.Conn
	err  error
}

// Transport 基于 TCP socket 的 transport.Transport 实现
//
// 所有回调均在 ProcessItem 内同步触发
// * 拨号在后台 goroutine 完成 结果写入 dialCh 由 tick 消费
// * 读取在 tick 内以立即超时的 Read 轮询 每个 tick 最多一个 block
// * Send 同步写入 socket 完成回调挂起到下一个 tick 投递
//
// Transport 非并发安全 Open/Close/Send/ProcessItem 必须来自同一线程
type Transport struct {
	config Config

	cb             transport.Callbacks
	onOpenComplete func(transport.OpenResult)

	conn    net.Conn
	dialCh  chan dialResult
	dialing bool

	pendingSends  []func()
	pendingCloses []func()

	rblock []byte
}

var _ transport.Transport = (*Transport)(nil)

// New 创建并返回 Transport 实例
func New(config Config) *Transport {
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	return &Transport{
		config: config,
		rblock: make([]byte, common.ReadBlockSize),
	}
}

// Open 实现 transport.Transport Open 接口
func (t *Transport) Open(cb transport.Callbacks, onOpenComplete func(transport.OpenResult)) error {
	if t.dialing {
		return ErrOpening
	}

	t.cb = cb
	t.onOpenComplete = onOpenComplete
	t.dialCh = make(chan dialResult, 1)
	t.dialing = true

	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	timeout := t.config.DialTimeout
	go func() {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		t.dialCh <- dialResult{conn: conn, err: err}
	}()
	return nil
}

// Close 实现 transport.Transport Close 接口
func (t *Transport) Close(onCloseComplete func()) error {
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			logger.Warnf("close connection: %v", err)
		}
		t.conn = nil
	}
	t.pendingCloses = append(t.pendingCloses, onCloseComplete)
	return nil
}

// Send 实现 transport.Transport Send 接口
//
// 写入是同步的 依赖内核 socket 缓冲 完成回调在下一个 tick 投递
func (t *Transport) Send(p []byte, onSendComplete func(transport.SendResult)) error {
	if t.conn == nil {
		return ErrNotConnected
	}

	if _, err := t.conn.Write(p); err != nil {
		t.pendingSends = append(t.pendingSends, func() {
			if onSendComplete != nil {
				onSendComplete(transport.SendFailed)
			}
		})
		return errors.Wrap(err, "send bytes")
	}

	t.pendingSends = append(t.pendingSends, func() {
		if onSendComplete != nil {
			onSendComplete(transport.SendOK)
		}
	})
	return nil
}

// ProcessItem 实现 transport.Transport ProcessItem 接口
func (t *Transport) ProcessItem() {
	if t == nil {
		return
	}

	t.processDial()
	t.processPending()
	t.processRead()
}

// processDial 消费后台拨号结果
func (t *Transport) processDial() {
	if !t.dialing {
		return
	}

	select {
	case res := <-t.dialCh:
		t.dialing = false
		if res.err != nil {
			logger.Errorf("dial %s:%d failed: %v", t.config.Host, t.config.Port, res.err)
			if t.onOpenComplete != nil {
				t.onOpenComplete(transport.OpenFailed)
			}
			return
		}

		// Open 之后又立即 Close 的情形 连接直接丢弃
		if len(t.pendingCloses) > 0 {
			res.conn.Close()
			if t.onOpenComplete != nil {
				t.onOpenComplete(transport.OpenFailed)
			}
			return
		}

		t.conn = res.conn
		if t.onOpenComplete != nil {
			t.onOpenComplete(transport.OpenOK)
		}
	default:
	}
}

// processPending 投递挂起的 send/close 完成回调
func (t *Transport) processPending() {
	sends := t.pendingSends
	t.pendingSends = nil
	for _, fn := range sends {
		fn()
	}

	closes := t.pendingCloses
	if t.dialing {
		// 拨号未决 等连接结果消费完再投递 close
		return
	}
	t.pendingCloses = nil
	for _, fn := range closes {
		if fn != nil {
			fn()
		}
	}
}

// processRead 以立即超时的方式轮询读取
func (t *Transport) processRead() {
	if t.conn == nil {
		return
	}

	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		t.ioError(transport.ErrGeneric)
		return
	}

	n, err := t.conn.Read(t.rblock)
	if n > 0 && t.cb.OnBytesReceived != nil {
		t.cb.OnBytesReceived(t.rblock[:n])
	}
	if err == nil {
		return
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	if errors.Is(err, io.EOF) {
		t.ioError(transport.ErrServerDisconn)
		return
	}
	t.ioError(transport.ErrGeneric)
}

func (t *Transport) ioError(kind transport.ErrKind) {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.cb.OnIOError != nil {
		t.cb.OnIOError(kind)
	}
}

// Endpoint 实现 transport.Transport Endpoint 接口
func (t *Transport) Endpoint() (string, uint16) {
	return t.config.Host, t.config.Port
}
