package tcp

import (
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
)

// LogConnections logs the start and end of every connection
func LogConnections(logger core.Logger) Middleware {
	return func(next ConnectionHandler) ConnectionHandler {
		return func(ctx *ConnContext) error {
			start := time.Now()
			remote := ""
			if ctx.RemoteAddr != nil {
				remote = ctx.RemoteAddr.String()
			}
			logger.Debug("tcp connection opened", "remote", remote)
			err := next(ctx)
			logger.Debug("tcp connection closed", "remote", remote, "duration", time.Since(start).String())
			return err
		}
	}
}
