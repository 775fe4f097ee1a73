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
	"bytes"
	"fmt"
	"strings"

	"github.com/httpwire/httpwire/headers"
)

// Method HTTP 请求方法
type Method uint8

const (
	MethodOptions Method = iota
	MethodGet
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
)

var methodNames = map[Method]string{
	MethodOptions: "OPTIONS",
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodPatch:   "PATCH",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// request 一次已提交的请求记录
//
// headerBlock 在提交时刻构造完成 发送时只需拼上请求行
// onResponse 与记录同生命周期 响应按 FIFO 配对后出队
type request struct {
	id          string
	method      Method
	path        string
	headerBlock []byte
	body        []byte
	onResponse  OnResponse
}

// buildHeaderBlock 构造请求的 header 区字节
//
// 依次写入调用方的每个 header 未提供 Host 时补上 `Host: <host>:<port>`
// 最后恒定以 `Content-Length: <n>` 与空行收尾
func buildHeaderBlock(hdr *headers.Headers, contentLength int, host string, port uint16) ([]byte, error) {
	var buf bytes.Buffer
	addHost := true

	for i := 0; i < hdr.Count(); i++ {
		name, value, err := hdr.PairAt(i)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(name, "Host") {
			addHost = false
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}

	if addHost {
		fmt.Fprintf(&buf, "Host: %s:%d\r\n", host, port)
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", contentLength)
	return buf.Bytes(), nil
}

// buildWireMessage 构造完整的请求报文字节 不含 body
//
// 格式为 `<METHOD> <path> HTTP/1.1\r\n<headers>`
func buildWireMessage(m Method, path string, headerBlock []byte) ([]byte, error) {
	name, ok := methodNames[m]
	if !ok {
		return nil, newError("unknown request method (%d)", uint8(m))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", name, path)
	buf.Write(headerBlock)
	return buf.Bytes(), nil
}
