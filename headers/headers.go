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

package headers

import (
	"strings"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "http/headers: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrInvalidArgs 参数不合法
	ErrInvalidArgs = newError("invalid arguments")

	// ErrNotFound PairAt 的下标越界 对应的 header 对不存在
	ErrNotFound = newError("name not found")
)

type pair struct {
	name  string
	value string
}

// Headers 有序的 name/value 多值集合
//
// 同名 header 允许重复 保持插入顺序
// 按 name 查找时大小写不敏感 命中第一个
//
// Headers 非并发安全 使用方需自行串行化
type Headers struct {
	pairs []pair
}

// New 创建并返回 Headers 实例
func New() *Headers {
	return &Headers{}
}

// Add 追加一对 name/value 内容会被拷贝
func (h *Headers) Add(name, value string) error {
	if name == "" || value == "" {
		return ErrInvalidArgs
	}
	h.pairs = append(h.pairs, pair{name: name, value: value})
	return nil
}

// AddPartial 以字节切片追加一对 name/value
//
// 供解析器在遍历过程中零切割写入 内容会被拷贝
// 调用返回后修改入参切片不影响已存储数据
func (h *Headers) AddPartial(name, value []byte) error {
	if len(name) == 0 || len(value) == 0 {
		return ErrInvalidArgs
	}
	h.pairs = append(h.pairs, pair{name: string(name), value: string(value)})
	return nil
}

// Remove 删除第一个 name 匹配的 header 匹配大小写不敏感
func (h *Headers) Remove(name string) error {
	if name == "" {
		return ErrInvalidArgs
	}
	for i := range h.pairs {
		if strings.EqualFold(h.pairs[i].name, name) {
			h.pairs = append(h.pairs[:i], h.pairs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Get 返回第一个 name 匹配的 value 匹配大小写不敏感
//
// 返回值在下一次写操作前有效
func (h *Headers) Get(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for i := range h.pairs {
		if strings.EqualFold(h.pairs[i].name, name) {
			return h.pairs[i].value, true
		}
	}
	return "", false
}

// Count 返回 header 对数量
func (h *Headers) Count() int {
	return len(h.pairs)
}

// PairAt 返回第 i 对 name/value
func (h *Headers) PairAt(i int) (string, string, error) {
	if i < 0 || i >= len(h.pairs) {
		return "", "", ErrNotFound
	}
	return h.pairs[i].name, h.pairs[i].value, nil
}

// Clear 清空所有 header 对
func (h *Headers) Clear() {
	h.pairs = h.pairs[:0]
}
