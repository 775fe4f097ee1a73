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

package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志配置
//
// Filename 为空或显式指定 Stdout 时日志写向标准输出
// 否则写入文件并按大小轮转 客户端是库形态 不需要按天数清理
type Options struct {
	Stdout     bool   `config:"stdout"`
	Level      string `config:"level"`
	Filename   string `config:"filename"`
	MaxSizeMB  int    `config:"maxSizeMB"`
	MaxBackups int    `config:"maxBackups"`
}

func (o Options) level() zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(o.Level)))
	if err != nil {
		return zapcore.DebugLevel
	}
	return l
}

func (o Options) sink() zapcore.WriteSyncer {
	if o.Stdout || o.Filename == "" {
		return zapcore.AddSync(os.Stdout)
	}

	// 初始化日志目录
	if err := os.MkdirAll(filepath.Dir(o.Filename), os.ModePerm); err != nil {
		panic(err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   o.Filename,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		LocalTime:  true,
	})
}

type Logger struct {
	sugared *zap.SugaredLogger
}

// New 创建并返回标准 Logger 实例
func New(opt Options) Logger {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), opt.sink(), opt.level())
	return Logger{
		sugared: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
	}
}

func (l Logger) Debugf(template string, args ...any) {
	l.sugared.Debugf(template, args...)
}

func (l Logger) Infof(template string, args ...any) {
	l.sugared.Infof(template, args...)
}

func (l Logger) Warnf(template string, args ...any) {
	l.sugared.Warnf(template, args...)
}

func (l Logger) Errorf(template string, args ...any) {
	l.sugared.Errorf(template, args...)
}

var std = New(Options{Stdout: true})

// SetOptions 以新配置重建全局 Logger
func SetOptions(opt Options) {
	std = New(opt)
}

func Debugf(template string, args ...any) {
	std.Debugf(template, args...)
}

func Infof(template string, args ...any) {
	std.Infof(template, args...)
}

func Warnf(template string, args ...any) {
	std.Warnf(template, args...)
}

func Errorf(template string, args ...any) {
	std.Errorf(template, args...)
}
