package filesync

import "strings"

// Resolve applies shell-like navigation rules to a target path against the
// session's current remote directory:
//
//   - ".." goes up one level (the root stays the root)
//   - "." and "" are no-ops
//   - "~" and "~/..." are rooted at "/" — the home directory is not
//     independently known, so the filesystem root stands in for it
//   - a leading "/" replaces the current directory outright
//   - anything else is appended with a single separating slash
func Resolve(current, target string) string {
	if current == "" {
		current = "/"
	}

	switch {
	case target == "" || target == ".":
		return current
	case target == "..":
		return parent(current)
	case target == "~":
		return "/"
	case strings.HasPrefix(target, "~/"):
		return "/" + strings.TrimPrefix(target, "~/")
	case strings.HasPrefix(target, "/"):
		return target
	default:
		if current == "/" {
			return "/" + target
		}
		return strings.TrimSuffix(current, "/") + "/" + target
	}
}

func parent(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	idx := strings.LastIndex(dir, "/")
	if idx <= 0 {
		return "/"
	}
	return dir[:idx]
}
