package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidConfig  = errors.New("sandbox: invalid configuration")
	ErrDangerousMount = errors.New("sandbox: refusing to mount system path")
	ErrMountNotFound  = errors.New("sandbox: mount path does not exist")
	ErrTimeout        = errors.New("sandbox: execution timed out")
)

// systemPrefixes are never mounted directly; the image provides them.
var systemPrefixes = []string{"/usr/", "/bin/", "/sbin/", "/lib/", "/lib64/"}

// deniedMountRoots may not be mounted, nor may anything below them.
var deniedMountRoots = []string{"/", "/etc", "/var", "/root", "/boot", "/dev", "/proc", "/sys"}

// PathPolicy decides which host paths are user-owned.
type PathPolicy struct {
	Home           string
	SharedPrefixes []string
}

// DefaultPathPolicy uses the invoking user's home and /opt.
func DefaultPathPolicy() PathPolicy {
	home, _ := os.UserHomeDir()
	return PathPolicy{Home: home, SharedPrefixes: []string{"/opt/"}}
}

// IsUserPath reports whether p may be mounted from the host. Paths under
// home or a shared prefix are user-owned; paths under a system prefix are
// not; anything else is treated as user-owned.
func (p PathPolicy) IsUserPath(path string) bool {
	path = filepath.Clean(path)
	if p.Home != "" && isUnder(path, filepath.Clean(p.Home)) {
		return true
	}
	for _, prefix := range p.SharedPrefixes {
		if strings.HasPrefix(path+"/", prefix) {
			return true
		}
	}
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(path+"/", prefix) {
			return false
		}
	}
	return true
}

// isUnder reports whether path equals root or lies below it.
func isUnder(path, root string) bool {
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == root || strings.HasPrefix(path, root+"/")
}

// isDenied reports whether path is "/" or inside one of the other denied
// roots. "/" only matches itself.
func isDenied(path string) bool {
	for _, root := range deniedMountRoots {
		if root == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if isUnder(path, root) {
			return true
		}
	}
	return false
}

// ValidateMount checks an additional mount request. The returned flag is
// true when the request is allowed but worth a warning (home mounted rw).
func (p PathPolicy) ValidateMount(hostPath string, mode MountMode) (bool, error) {
	if hostPath == "" {
		return false, ErrMountNotFound
	}
	abs, err := filepath.Abs(expandHome(hostPath, p.Home))
	if err != nil {
		return false, err
	}
	abs = filepath.Clean(abs)
	resolved := abs
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = r
	}
	if isDenied(abs) || isDenied(resolved) {
		return false, ErrDangerousMount
	}
	if _, err := os.Stat(resolved); err != nil {
		return false, ErrMountNotFound
	}
	flagged := mode == MountReadWrite && p.Home != "" && resolved == filepath.Clean(p.Home)
	return flagged, nil
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
