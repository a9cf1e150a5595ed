// twilightctl 是 Discord REST 客户端的命令行工具，用于手工调用 API 与排查限流。
//
// 用法:
//
//	twilightctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config        配置文件路径（.yaml/.yml/.json）
//	    --token         认证 token（环境变量 TWILIGHT_TOKEN）
//	    --base-url      API 地址
//	    --proxy         代理 host[:port]
//	    --proxy-http    以 http 访问代理
//	-t, --timeout       请求超时（默认 10s）
//	    --ratelimiter   memory、redis 或 none
//	    --redis-addr    redis 限流器地址
//	    --skip-identity 跳过身份元数据获取
//	    --log-level     日志级别 (debug/info/warn/error)
//	    --log-file      日志文件，按大小轮转
//
// 命令:
//
//	request <method> <path>   发送任意请求并打印响应体
//	gateway                   查询网关地址
//	me                        查询当前用户
//	send <channel> <content>  发送消息
//	identity                  获取并打印身份元数据
//
// 退出码:
//
//	0: 成功
//	1: 请求失败
//	2: 参数错误
//	3: token 已失效
//	4: 被限流
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/splatterxl/twilight/pkg/discord/xhttp"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// 退出码。
const (
	exitOK               = 0
	exitFailure          = 1
	exitUsage            = 2
	exitTokenInvalidated = 3
	exitRateLimited      = 4
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "twilightctl",
		Usage:     "Discord REST 客户端命令行工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags:     globalFlags(),
		Commands:  createCommands(),
		// 由 run() 统一映射退出码
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	return exitCode(createApp(os.Stdout).Run(ctx, os.Args))
}

// exitCode 把命令错误映射为退出码。
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
		return exitUsage
	}

	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	switch xhttp.KindOf(err) {
	case xhttp.KindTokenInvalidated:
		return exitTokenInvalidated
	case xhttp.KindRateLimited:
		return exitRateLimited
	}
	return exitFailure
}

// setupSignalHandler 第一次信号取消 context，第二次强制退出。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
