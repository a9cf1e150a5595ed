package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/splatterxl/twilight/pkg/discord/xhttp"
	"github.com/splatterxl/twilight/pkg/discord/xmodel"
	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

// 日志文件轮转参数。
const (
	logMaxSizeMB  = 100
	logMaxBackups = 3
	logMaxAgeDays = 7
)

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "配置文件路径（.yaml/.yml/.json）",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "认证 token",
			Sources: cli.EnvVars("TWILIGHT_TOKEN"),
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "API 地址",
		},
		&cli.StringFlag{
			Name:  "proxy",
			Usage: "代理 host[:port]",
		},
		&cli.BoolFlag{
			Name:  "proxy-http",
			Usage: "以 http 访问代理",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "请求超时",
			Value:   xhttp.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:  "ratelimiter",
			Usage: "限流器类型 (memory/redis/none)",
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "redis 限流器地址",
			Sources: cli.EnvVars("TWILIGHT_REDIS_ADDR"),
		},
		&cli.BoolFlag{
			Name:  "skip-identity",
			Usage: "跳过身份元数据获取",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "日志级别 (debug/info/warn/error)",
			Value: "warn",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "日志文件路径，不设置时输出到 stderr",
		},
	}
}

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createRequestCommand(),
		createGatewayCommand(),
		createMeCommand(),
		createSendCommand(),
		createIdentityCommand(),
	}
}

// createRequestCommand 创建 request 子命令。
func createRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Aliases:   []string{"r"},
		Usage:     "发送任意请求并打印响应体",
		ArgsUsage: "<method> <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "body", Aliases: []string{"d"}, Usage: "JSON 请求体"},
			&cli.StringFlag{Name: "reason", Usage: "审计日志原因"},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "附加请求头，格式 'Key: Value'"},
			&cli.UintFlag{Name: "retry", Usage: "最大尝试次数，0 表示不重试"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return usagef("request 需要 <method> <path>")
			}
			req, err := buildRawRequest(cmd.Args().Get(0), cmd.Args().Get(1),
				cmd.String("body"), cmd.String("reason"), cmd.StringSlice("header"))
			if err != nil {
				return err
			}
			return withClient(ctx, cmd, func(c *xhttp.Client, logger *slog.Logger) error {
				var resp *xhttp.Response
				if n := cmd.Uint("retry"); n > 1 {
					resp, err = xhttp.Retry(ctx, c, req,
						xhttp.WithRetryAttempts(uint(n)),
						xhttp.WithOnRetry(func(attempt int, err error) {
							logger.Info("twilightctl: retrying", slog.Int("attempt", attempt), slog.Any("error", err))
						}))
				} else {
					resp, err = c.Request(ctx, req)
				}
				if err != nil {
					return err
				}
				return printBody(cmd.Root().Writer, resp.Body)
			})
		},
	}
}

// createGatewayCommand 创建 gateway 子命令。
func createGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "查询网关地址",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "bot", Usage: "查询 /gateway/bot（含分片建议）"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(c *xhttp.Client, _ *slog.Logger) error {
				out := cmd.Root().Writer
				if cmd.Bool("bot") {
					gw, err := xhttp.Decode[xmodel.GatewayBot](ctx, c, xhttp.NewRequest(xroute.GetGatewayBot(), nil))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s shards=%d\n", gw.URL, gw.Shards)
					return nil
				}
				gw, err := xhttp.Decode[xmodel.Gateway](ctx, c, xhttp.NewRequest(xroute.GetGateway(), nil))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, gw.URL)
				return nil
			})
		},
	}
}

// createMeCommand 创建 me 子命令。
func createMeCommand() *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "查询当前用户",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(c *xhttp.Client, _ *slog.Logger) error {
				user, err := xhttp.Decode[xmodel.User](ctx, c, xhttp.NewRequest(xroute.GetCurrentUser(), nil))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "%s (%s)\n", user.Username, user.ID)
				return nil
			})
		},
	}
}

// createSendCommand 创建 send 子命令。
func createSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "发送消息",
		ArgsUsage: "<channel_id> <content>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return usagef("send 需要 <channel_id> <content>")
			}
			channel, err := xmodel.ParseSnowflake(cmd.Args().Get(0))
			if err != nil {
				return usagef("%v", err)
			}
			msg := xmodel.CreateMessage{Content: cmd.Args().Get(1)}
			return withClient(ctx, cmd, func(c *xhttp.Client, _ *slog.Logger) error {
				sent, err := xhttp.Decode[xmodel.Message](ctx, c, xhttp.NewRequest(xroute.CreateMessage(channel), msg))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.Root().Writer, sent.ID)
				return nil
			})
		},
	}
}

// createIdentityCommand 创建 identity 子命令。
func createIdentityCommand() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "获取并打印身份元数据",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("skip-identity") {
				return usagef("identity 与 --skip-identity 不能同时使用")
			}
			return withClient(ctx, cmd, func(c *xhttp.Client, _ *slog.Logger) error {
				props := c.Identity()
				if props == nil {
					return usagef("配置中跳过了身份元数据获取")
				}
				data, err := json.MarshalIndent(props, "", "  ")
				if err != nil {
					return err
				}
				out := cmd.Root().Writer
				fmt.Fprintln(out, string(data))
				fmt.Fprintf(out, "%s: %s\n", xhttp.HeaderSuperProperties, props.Encoded())
				return nil
			})
		},
	}
}

// withClient 按全局选项构建客户端，执行 fn 后释放资源。
func withClient(ctx context.Context, cmd *cli.Command, fn func(*xhttp.Client, *slog.Logger) error) error {
	logger, closer, err := newLogger(cmd.String("log-level"), cmd.String("log-file"), cmd.Root().ErrWriter)
	if err != nil {
		return err
	}
	defer closer.Close() //nolint:errcheck // 退出路径

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := xhttp.NewBuilder().Logger(logger).FromConfig(cfg).Build(ctx)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck // 退出路径

	return fn(c, logger)
}

// loadConfig 读取配置文件，再用命令行选项覆盖。
func loadConfig(cmd *cli.Command) (*xhttp.Config, error) {
	cfg := &xhttp.Config{}
	if path := cmd.String("config"); path != "" {
		loaded, err := xhttp.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := cmd.String("token"); v != "" {
		cfg.Token = v
	}
	if v := cmd.String("base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.String("proxy"); v != "" {
		cfg.Proxy = v
		cfg.ProxyUseHTTP = cmd.Bool("proxy-http")
	}
	if cmd.IsSet("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if v := cmd.String("ratelimiter"); v != "" {
		cfg.RateLimiter.Kind = v
	}
	if v := cmd.String("redis-addr"); v != "" {
		cfg.RateLimiter.RedisAddr = v
	}
	if cmd.Bool("skip-identity") {
		cfg.Identity.Skip = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, usagef("%v", err)
	}
	return cfg, nil
}

// newLogger 创建 JSON 日志记录器；指定文件时由 lumberjack 按大小轮转。
func newLogger(level, file string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, usagef("无效的日志级别 %q", level)
	}

	var w io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}

// buildRawRequest 根据命令行参数构造请求。
func buildRawRequest(method, path, body, reason string, headers []string) (*xhttp.Request, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, usagef("路径必须以 / 开头: %q", path)
	}
	req := xhttp.NewRequest(xroute.Raw(method, path), nil).WithReason(reason)
	if body != "" {
		if !json.Valid([]byte(body)) {
			return nil, usagef("请求体不是合法的 JSON")
		}
		req.Body = json.RawMessage(body)
	}
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, usagef("无效的请求头 %q", h)
		}
		req.WithHeader(http.CanonicalHeaderKey(strings.TrimSpace(k)), strings.TrimSpace(v))
	}
	return req, nil
}

// printBody 输出响应体，JSON 缩进后输出。
func printBody(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = fmt.Fprintln(w, string(body))
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
