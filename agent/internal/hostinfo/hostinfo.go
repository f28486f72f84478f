// Package hostinfo derives the free-form tag set an agent presents at
// node_register time, using gopsutil for the pieces the runtime package
// cannot answer (platform name/version, core count).
package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// Tags returns a best-effort set of "key:value" tags describing this host.
// gopsutil failures are non-fatal — a tag is simply omitted.
func Tags(ctx context.Context) []string {
	tags := []string{
		fmt.Sprintf("os:%s", runtime.GOOS),
		fmt.Sprintf("arch:%s", runtime.GOARCH),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		if info.Platform != "" {
			tags = append(tags, fmt.Sprintf("platform:%s", info.Platform))
		}
		if info.PlatformVersion != "" {
			tags = append(tags, fmt.Sprintf("platform_version:%s", info.PlatformVersion))
		}
	}

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil && counts > 0 {
		tags = append(tags, fmt.Sprintf("cpus:%d", counts))
	}

	return tags
}
