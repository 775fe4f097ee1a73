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

import "fmt"

// 构建期通过 -ldflags -X 注入
var (
	buildVersion = Version
	buildGitHash string
	buildTime    string
)

// BuildInfo 代表程序构建信息
type BuildInfo struct {
	App     string `json:"app"`
	Version string `json:"version"`
	GitHash string `json:"gitHash,omitempty"`
	Time    string `json:"buildTime,omitempty"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		App:     App,
		Version: buildVersion,
		GitHash: buildGitHash,
		Time:    buildTime,
	}
}

// Short 返回单行的版本描述
func (i BuildInfo) Short() string {
	s := i.App + "/" + i.Version
	if i.GitHash != "" {
		s = fmt.Sprintf("%s (%s)", s, i.GitHash)
	}
	return s
}
