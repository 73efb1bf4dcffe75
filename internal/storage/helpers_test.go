package storage

import (
	"strconv"
	"time"

	logx "relaybot/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func farFuture() string {
	return strconv.FormatInt(time.Now().Add(24*time.Hour).UnixMilli(), 10)
}
