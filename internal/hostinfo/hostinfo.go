// Package hostinfo resolves who is operating the tool and on which
// machine, for audit enrichment and the status command.
package hostinfo

import (
	"os"
	"os/user"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// Info identifies the local operator and machine.
type Info struct {
	Actor    string
	Host     string
	Platform string
}

// Resolve gathers actor and host identity. Every lookup degrades to
// "unknown" rather than failing; a desktop tool must not refuse to start
// because identity is unavailable.
func Resolve(logger *zap.Logger) Info {
	if logger == nil {
		logger = zap.NewNop()
	}

	info := Info{
		Actor:    "unknown",
		Host:     "unknown",
		Platform: "unknown",
	}

	u, uerr := user.Current()
	switch {
	case uerr == nil && u.Username != "":
		info.Actor = u.Username
	case os.Getenv("USER") != "":
		info.Actor = os.Getenv("USER")
	default:
		logger.Warn("could not resolve current user", zap.Error(uerr))
	}

	if hi, err := host.Info(); err == nil {
		if hi.Hostname != "" {
			info.Host = hi.Hostname
		}
		if hi.Platform != "" {
			info.Platform = hi.Platform
			if hi.PlatformVersion != "" {
				info.Platform += " " + hi.PlatformVersion
			}
		}
	} else {
		logger.Warn("could not read host info", zap.Error(err))
		if name, herr := os.Hostname(); herr == nil && name != "" {
			info.Host = name
		}
	}

	return info
}
