//go:build !linux

package camera

import (
	"context"
	"fmt"
	"runtime"
)

func init() {
	Register("v4l2", func(context.Context, Config) (Source, error) {
		return nil, fmt.Errorf("v4l2 ドライバーは %s では利用できません", runtime.GOOS)
	})
}
