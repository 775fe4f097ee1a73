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

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/httpwire/httpwire/client"
	"github.com/httpwire/httpwire/common"
	"github.com/httpwire/httpwire/confengine"
	"github.com/httpwire/httpwire/headers"
	"github.com/httpwire/httpwire/logger"
	"github.com/httpwire/httpwire/server"
	"github.com/httpwire/httpwire/transport/tcpsock"
)

type requestCmdConfig struct {
	Host    string
	Port    uint16
	Method  string
	Path    string
	Headers []string
	Body    string
	Trace   bool
	Timeout time.Duration
	Config  string
}

var requestConfig requestCmdConfig

var methodValues = map[string]client.Method{
	"OPTIONS": client.MethodOptions,
	"GET":     client.MethodGet,
	"POST":    client.MethodPost,
	"PUT":     client.MethodPut,
	"DELETE":  client.MethodDelete,
	"PATCH":   client.MethodPatch,
}

func (c *requestCmdConfig) decodeHeaders() (*headers.Headers, error) {
	if len(c.Headers) == 0 {
		return nil, nil
	}

	hdr := headers.New()
	for _, kv := range c.Headers {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header format '%s', expected 'Name: Value'", kv)
		}
		if err := hdr.Add(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])); err != nil {
			return nil, err
		}
	}
	return hdr, nil
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Issue a single HTTP/1.1 request and print the response",
	Run: func(cmd *cobra.Command, args []string) {
		if requestConfig.Config != "" {
			cfg, err := confengine.LoadConfigPath(requestConfig.Config)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}

			var loggerOpts logger.Options
			if err := cfg.UnpackChild("logger", &loggerOpts); err == nil {
				logger.SetOptions(loggerOpts)
			}

			srv, err := server.New(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
				os.Exit(1)
			}
			if srv != nil {
				go func() {
					if err := srv.ListenAndServe(); err != nil {
						logger.Errorf("server exited: %v", err)
					}
				}()
				defer srv.Close()
			}
		}

		method, ok := methodValues[strings.ToUpper(requestConfig.Method)]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown method '%s'\n", requestConfig.Method)
			os.Exit(1)
		}

		hdr, err := requestConfig.decodeHeaders()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		if err := run(method, hdr); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	},
	Example: `# httpwire request --host example.com --port 80 --path / --header 'Accept: text/html'`,
}

// run 驱动一次完整的请求来回
//
// 客户端是非阻塞的 这里以固定的节拍循环调用 ProcessItem
// 直到响应回调或错误回调触发 超过 --timeout 指定的时长则返回超时错误
func run(method client.Method, hdr *headers.Headers) error {
	c := client.New(common.NewOptions())
	defer c.Destroy()

	if requestConfig.Trace {
		if err := c.SetTrace(true); err != nil {
			return err
		}
	}

	var done bool
	var runErr error

	t := tcpsock.New(tcpsock.Config{
		Host: requestConfig.Host,
		Port: requestConfig.Port,
	})

	onResponse := func(result client.Result, statusCode int, hdr *headers.Headers, body []byte) {
		done = true
		if result != client.ResultOK {
			runErr = fmt.Errorf("request failed: %s", result)
			return
		}

		fmt.Printf("HTTP %d\n", statusCode)
		for i := 0; i < hdr.Count(); i++ {
			name, value, _ := hdr.PairAt(i)
			fmt.Printf("%s: %s\n", name, value)
		}
		if len(body) > 0 {
			fmt.Printf("\n%s\n", body)
		}
	}

	onOpen := func(result client.Result) {
		if result != client.ResultOK {
			done = true
			runErr = fmt.Errorf("open failed: %s", result)
			return
		}

		var body []byte
		if requestConfig.Body != "" {
			body = []byte(requestConfig.Body)
		}
		if err := c.Execute(method, requestConfig.Path, hdr, body, onResponse); err != nil {
			done = true
			runErr = err
		}
	}

	onError := func(result client.Result) {
		done = true
		runErr = fmt.Errorf("connection error: %s", result)
	}

	if err := c.Open(t, onOpen, onError); err != nil {
		return err
	}

	deadline := time.Now().Add(requestConfig.Timeout)
	for !done {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", requestConfig.Timeout)
		}
		c.ProcessItem()
		time.Sleep(time.Millisecond)
	}

	_ = c.Close(nil)
	c.ProcessItem()
	return runErr
}

func init() {
	requestCmd.Flags().StringVar(&requestConfig.Host, "host", "127.0.0.1", "Remote host to connect to")
	requestCmd.Flags().Uint16Var(&requestConfig.Port, "port", 80, "Remote port to connect to")
	requestCmd.Flags().StringVar(&requestConfig.Method, "method", "GET", "Request method (OPTIONS/GET/POST/PUT/DELETE/PATCH)")
	requestCmd.Flags().StringVar(&requestConfig.Path, "path", "/", "Relative request path")
	requestCmd.Flags().StringSliceVar(&requestConfig.Headers, "header", nil, "Request headers in 'Name: Value' format, repeatable")
	requestCmd.Flags().StringVar(&requestConfig.Body, "body", "", "Request body")
	requestCmd.Flags().BoolVar(&requestConfig.Trace, "trace", false, "Enable wire tracing")
	requestCmd.Flags().DurationVar(&requestConfig.Timeout, "timeout", 30*time.Second, "Overall request timeout")
	requestCmd.Flags().StringVar(&requestConfig.Config, "config", "", "Optional configuration file path")
	rootCmd.AddCommand(requestCmd)
}
