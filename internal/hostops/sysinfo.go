package hostops

import (
	"os"
	"os/user"
	"runtime"
)

// SystemInfo describes the account the server runs as.
type SystemInfo struct {
	Username string
	Platform string
	HomeDir  string
}

// CurrentSystemInfo reports the server's user, OS and home directory.
func CurrentSystemInfo() SystemInfo {
	info := SystemInfo{Platform: runtime.GOOS}
	if u, err := user.Current(); err == nil {
		info.Username = u.Username
		info.HomeDir = u.HomeDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		info.HomeDir = home
	}
	return info
}
