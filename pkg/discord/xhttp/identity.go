package xhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

// fetchIdentity 获取身份元数据。
// 请求经过与普通请求相同的调度流程，因此同样受限流和超时约束。
func (c *Client) fetchIdentity(ctx context.Context, rawURL string) (*xmodel.SuperProperties, error) {
	route, err := xroute.External(http.MethodPost, rawURL)
	if err != nil {
		return nil, fmt.Errorf("xhttp: identity url: %w", err)
	}

	resp, err := c.Request(ctx, NewRequest(route, nil))
	if err != nil {
		return nil, err
	}

	props, err := xmodel.ParseSuperProperties(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("xhttp: identity loaded",
		slog.String("os", props.OS),
		slog.String("browser", props.Browser),
		slog.Int64("build", props.ClientBuildNumber))
	return props, nil
}
