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

package transport

// OpenResult 异步 Open 的结果
type OpenResult uint8

const (
	OpenOK OpenResult = iota
	OpenFailed
)

// SendResult 异步 Send 的结果
type SendResult uint8

const (
	SendOK SendResult = iota
	SendFailed
)

// ErrKind IO 错误类别 由上层映射为各自的错误码
type ErrKind uint8

const (
	// ErrGeneric 未分类的 IO 错误
	ErrGeneric ErrKind = iota

	// ErrMemory 内存分配失败
	ErrMemory

	// ErrServerDisconn 对端断开连接
	ErrServerDisconn
)

// Callbacks transport 向上层投递数据与错误的回调集合
//
// 所有回调都必须在 ProcessItem 内同步触发 不允许跨 goroutine 投递
type Callbacks struct {
	// OnBytesReceived 收到的字节分片 切片仅在回调期间有效
	OnBytesReceived func(p []byte)

	// OnIOError IO 层出现错误
	OnIOError func(kind ErrKind)
}

// Transport 可插拔的字节流传输层
//
// 实现必须是非阻塞的 所有进度由调用方反复调用 ProcessItem 驱动
// Open/Close/Send 仅发起操作 完成结果经由回调在后续 tick 投递
type Transport interface {
	// Open 发起连接 完成后经 onOpenComplete 投递结果
	Open(cb Callbacks, onOpenComplete func(OpenResult)) error

	// Close 发起关闭 完成后经 onCloseComplete 投递
	Close(onCloseComplete func()) error

	// Send 发送字节 完成后经 onSendComplete 投递结果
	Send(p []byte, onSendComplete func(SendResult)) error

	// ProcessItem 驱动 IO 并同步触发各类回调
	ProcessItem()

	// Endpoint 返回远端的主机名与端口
	Endpoint() (string, uint16)
}
