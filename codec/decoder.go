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

package codec

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/bytebufferpool"

	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/headers"
	"github.com/httpwire/httpwire/internal/bufbytes"
	"github.com/httpwire/httpwire/logger"
)

func newError(format string, args ...any) error {
	format = "http/codec: " + format
	return errors.Errorf(format, args...)
}

var (
	charCRLF             = []byte("\r\n")
	charContentLength    = []byte("Content-Length")
	charTransferEncoding = []byte("Transfer-Encoding")
	charChunked          = []byte("chunked")
)

var (
	responsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "codec",
			Name:      "responses_decoded_total",
			Help:      "http responses decoded total",
		},
	)
	decodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "http response decode errors total",
		},
	)
)

// Result 单次响应解析的回调结果
type Result uint8

const (
	// ResultOK 响应解析成功
	ResultOK Result = iota

	// ResultError 响应解析失败 此时回调中 *Response 为 nil
	ResultError
)

// Response 一次完整的 HTTP 响应
//
// Header 与 Body 的所有权仅在回调期间属于调用方
// 回调返回后 decoder 会回收并复用底层存储 如需持有请先拷贝
type Response struct {
	StatusCode int
	Header     *headers.Headers
	Body       []byte
	Chunked    bool
}

// OnResponse 响应完成回调 每个完整响应恰好触发一次
type OnResponse func(result Result, resp *Response)

// state 记录着 decoder 的处理状态
type state uint8

const (
	// stateInitial 初始值
	// 处于此状态时下一批字节属于新的响应
	stateInitial state = iota

	// stateStatusLine 解析状态行 如 `HTTP/1.1 200 OK\r\n`
	stateStatusLine

	// stateHeaders 解析 header 状态
	// chunked 响应的 trailer 区也复用此状态 见 inTrailer
	stateHeaders

	// stateBody 解析定长 body 状态 长度由 Content-Length 决定
	stateBody

	// stateChunkedBody 解析 chunked body 状态
	stateChunkedBody
)

const defaultMaxBufferSize = 1 << 20 // 1MB

// Decoder HTTP1.1 响应流式解析器
//
// Write 可以接收任意大小的字节分片 跨分片的状态会被完整保留
// 每当一个响应解析完成 恰好触发一次 OnResponse 回调 之后自动复位
// 等待下一个响应 解析失败同样触发一次回调并复位
//
// Decoder 非并发安全 单条连接的数据必须串行写入
type Decoder struct {
	onResponse    OnResponse
	traceOn       bool
	maxBufferSize int

	state state
	rbuf  *bufbytes.Buffer

	header        *headers.Headers
	statusCode    int
	contentLength int
	chunked       bool
	badEncoding   bool

	// chunked 子状态
	chunkRemaining int
	chunkBuf       *bytebufferpool.ByteBuffer
	inTrailer      bool
}

// New 创建并返回 Decoder 实例
func New(onResponse OnResponse, options common.Options) *Decoder {
	// 接收缓冲区的上限 超过即判定为异常响应 默认 1MB
	maxBufferSize, err := options.GetInt("maxBufferSize")
	if err != nil || maxBufferSize <= 0 {
		maxBufferSize = defaultMaxBufferSize
	}

	return &Decoder{
		onResponse:    onResponse,
		maxBufferSize: maxBufferSize,
		rbuf:          bufbytes.New(),
		header:        headers.New(),
	}
}

// Reinitialize 强制复位 丢弃当前累积的所有解析状态
func (d *Decoder) Reinitialize() error {
	if d == nil {
		return newError("invalid nil decoder")
	}
	d.reset()
	return nil
}

// SetTrace 开启或关闭解析日志
func (d *Decoder) SetTrace(on bool) {
	d.traceOn = on
}

// reset 重置单次响应状态
func (d *Decoder) reset() {
	d.state = stateInitial
	d.rbuf.Reset()
	d.header.Clear()
	d.statusCode = 0
	d.contentLength = 0
	d.chunked = false
	d.badEncoding = false
	d.chunkRemaining = 0
	d.inTrailer = false
	if d.chunkBuf != nil {
		bytebufferpool.Put(d.chunkBuf)
		d.chunkBuf = nil
	}
}

// Write 字节入口 供 transport 的 OnBytesReceived 直接挂接
//
// 处于 stateInitial 时本批字节会初始化接收缓冲区
// 其余状态下追加到末尾 然后尽可能地向前推进解析
func (d *Decoder) Write(p []byte) {
	if d == nil || len(p) == 0 {
		return
	}

	if d.state == stateInitial {
		d.rbuf.Reset()
		d.state = stateStatusLine
	}
	d.rbuf.Append(p)
	if d.rbuf.Len() > d.maxBufferSize {
		d.fail(newError("receive buffer exceeds %d bytes", d.maxBufferSize))
		return
	}
	d.run()
}

// run 推进状态机直至数据耗尽或响应完成
func (d *Decoder) run() {
	for {
		var next bool
		var err error

		switch d.state {
		case stateStatusLine:
			next, err = d.processStatusLine()
		case stateHeaders:
			next, err = d.processHeaders()
		case stateBody:
			next, err = d.processBody()
		case stateChunkedBody:
			next, err = d.processChunkedBody()
		default:
			return
		}

		if err != nil {
			d.fail(err)
			return
		}
		if !next {
			return
		}
		// 响应已经完成交付 剩余字节不属于本响应 直接丢弃
		if d.state == stateInitial {
			return
		}
	}
}

// nextLine 取出下一个以 LF 结尾的完整行 并消费掉它
//
// 返回的行不含行尾的 CRLF 没有完整行时 ok 为 false
func (d *Decoder) nextLine() ([]byte, bool) {
	b := d.rbuf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx == -1 {
		return nil, false
	}

	line := b[:idx]
	line = bytes.TrimSuffix(line, charCRLF[:1])
	d.rbuf.Skip(idx + 1)
	return line, true
}

// processStatusLine 解析状态行
//
// 格式为 `HTTP/<ver> SP <code> SP <reason> CRLF`
// 定位首个空格 其后的三位十进制数字即状态码 行未完整则保留状态等待下批数据
func (d *Decoder) processStatusLine() (bool, error) {
	line, ok := d.nextLine()
	if !ok {
		return false, nil
	}

	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return false, newError("malformed status line (%q)", line)
	}

	var code, n int
	for _, c := range line[sp+1:] {
		if c < '0' || c > '9' {
			break
		}
		code = code*10 + int(c-'0')
		n++
	}
	if n != 3 || code == 0 {
		return false, newError("malformed status code (%q)", line)
	}

	d.statusCode = code
	d.rbuf.Compact()
	d.state = stateHeaders
	return true, nil
}

// processHeaders 逐行解析 header 区
//
// 每行格式为 `name ":" OWS value CRLF` 空行代表 header 区结束
// trailer 区复用本状态 但其中的 header 仅消费不存储
func (d *Decoder) processHeaders() (bool, error) {
	for {
		line, ok := d.nextLine()
		if !ok {
			return false, nil
		}

		if len(line) == 0 {
			d.rbuf.Compact()
			return true, d.endOfHeaders()
		}

		if err := d.processHeaderLine(line); err != nil {
			return false, err
		}
		d.rbuf.Compact()
	}
}

func (d *Decoder) processHeaderLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return newError("malformed header line (%q)", line)
	}

	name := line[:colon]
	value := line[colon+1:]
	for len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}

	// trailer 区的 header 仅消费 既不存储也不参与分帧决策
	if d.inTrailer {
		return nil
	}

	if err := d.header.AddPartial(name, value); err != nil {
		return errors.Wrap(err, "add response header")
	}

	switch {
	case bytes.EqualFold(name, charContentLength):
		n, err := strconv.Atoi(string(bytes.TrimRight(value, " ")))
		if err != nil || n < 0 {
			return newError("malformed Content-Length (%q)", value)
		}
		d.contentLength = n
		d.chunked = false

	case bytes.EqualFold(name, charTransferEncoding):
		// 仅当编码列表包含 chunked 时才按 chunked 分帧
		// 其余编码 decoder 无法确定 body 边界 在 header 区结束时报错
		d.chunked = false
		d.badEncoding = true
		for _, enc := range bytes.Split(value, []byte(",")) {
			if bytes.EqualFold(bytes.TrimSpace(enc), charChunked) {
				d.chunked = true
				d.badEncoding = false
				d.contentLength = 0
			}
		}
	}
	return nil
}

// endOfHeaders 根据 header 区的结论决定下一状态
func (d *Decoder) endOfHeaders() error {
	if d.inTrailer {
		// trailer 区结束代表 chunked body 真正结束
		d.deliver()
		return nil
	}

	if d.badEncoding {
		return newError("unsupported Transfer-Encoding")
	}

	switch {
	case d.chunked:
		d.chunkBuf = bytebufferpool.Get()
		d.state = stateChunkedBody
	case d.contentLength > 0:
		d.state = stateBody
	default:
		d.deliver()
	}
	return nil
}

// processBody 处理定长 body
//
// 当累积的字节数恰好等于 Content-Length 或者等于 Content-Length+4
// 时完成 后者用于容忍末尾多出的一组 `\r\n\r\n` 超出且不相等则报错
func (d *Decoder) processBody() (bool, error) {
	n := d.rbuf.Len()
	switch {
	case n == d.contentLength || n == d.contentLength+len(charCRLF)*2:
		d.deliver()
		return true, nil
	case n > d.contentLength:
		return false, newError("body length %d overruns Content-Length %d", n, d.contentLength)
	}
	return false, nil
}

// processChunkedBody 处理 chunked body
//
// 每个 chunk 为 `<hex-size>[;ext]\r\n<data>\r\n` 扩展内容直接丢弃
// data 被拷贝进 chunk 累积缓冲 零长度 chunk 之后进入 trailer 区
// 交付的 body 即为各个 chunk data 的拼接
func (d *Decoder) processChunkedBody() (bool, error) {
	for {
		if d.chunkRemaining > 0 {
			need := d.chunkRemaining + len(charCRLF)
			if d.rbuf.Len() < need {
				return false, nil
			}

			b := d.rbuf.Bytes()
			if !bytes.Equal(b[d.chunkRemaining:need], charCRLF) {
				return false, newError("chunk data missing trailing CRLF")
			}
			d.chunkBuf.Write(b[:d.chunkRemaining])
			d.rbuf.Skip(need)
			d.rbuf.Compact()
			d.chunkRemaining = 0
			continue
		}

		line, ok := d.nextLine()
		if !ok {
			return false, nil
		}

		size, err := convertHex(line)
		if err != nil {
			return false, err
		}
		d.rbuf.Compact()

		if size == 0 {
			// 之后要么是一个空行 要么是若干 trailer header 行 复用 header 状态消费
			d.inTrailer = true
			d.state = stateHeaders
			return true, nil
		}
		d.chunkRemaining = size
	}
}

// deliver 交付解析完成的响应 并在回调返回后复位
func (d *Decoder) deliver() {
	var body []byte
	switch {
	case d.chunked:
		body = d.chunkBuf.B
	case d.contentLength > 0:
		body = d.rbuf.Bytes()[:d.contentLength]
	}

	if d.traceOn {
		logger.Debugf("<== HTTP Status: %d", d.statusCode)
		for i := 0; i < d.header.Count(); i++ {
			name, value, _ := d.header.PairAt(i)
			logger.Debugf("<== %s: %s", name, value)
		}
		if len(body) > 0 {
			logger.Debugf("<== %s", body)
		}
	}

	resp := &Response{
		StatusCode: d.statusCode,
		Header:     d.header,
		Body:       body,
		Chunked:    d.chunked,
	}
	responsesTotal.Inc()
	if d.onResponse != nil {
		d.onResponse(ResultOK, resp)
	}
	d.reset()
}

// fail 交付解析失败 并复位等待下一个响应
func (d *Decoder) fail(err error) {
	decodeErrorsTotal.Inc()
	logger.Errorf("decode response failed: %v", err)

	if d.onResponse != nil {
		d.onResponse(ResultError, nil)
	}
	d.reset()
}

// convertHex 将 chunk-size 的 16 进制字节解析为 int
//
// 接受 0-9 A-F a-f 遇到 `;` 停止 后者为 chunk 扩展分隔符
func convertHex(v []byte) (int, error) {
	var n int
	var digits int
	for _, b := range v {
		if b == ';' {
			break
		}

		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, newError("invalid byte in chunk length (%q)", v)
		}
		if digits == 16 {
			return 0, newError("chunk length too large (%q)", v)
		}
		n <<= 4
		n |= int(b)
		digits++
	}
	if digits == 0 {
		return 0, newError("empty hex number for chunk length")
	}
	return n, nil
}
