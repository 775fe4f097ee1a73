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

package common

const (
	// App 应用程序名称
	App = "httpwire"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadBlockSize 单次从 socket 读取的最大字节数
	//
	// transport 每个 tick 最多读取一个 block 交给上层解析
	// 调大会减少 tick 次数但增加单次驻留内存 4K 是个折中值
	ReadBlockSize = 4096
)
