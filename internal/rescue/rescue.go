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

package rescue

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/logger"
)

var callbackPanicTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "callback_panic_total",
		Help:      "user callback panics absorbed total",
	},
	[]string{"scope"},
)

// Run 在恢复保护下执行一个用户回调
//
// 客户端在 tick 内调用应用层回调 回调 panic 不允许破坏状态机
// scope 标记的是哪一类回调 open/close/error/response 便于定位崩溃现场
func Run(scope string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		callbackPanicTotal.WithLabelValues(scope).Inc()
		logger.Errorf("callback (%s) panicked: %v\n%s", scope, r, debug.Stack())
	}()
	fn()
}
