package sandbox

// IsolationLevel is the capability tier granted to one execution. Levels
// escalate monotonically: a higher level means a stricter sandbox with a
// smaller package allowlist.
type IsolationLevel int

const (
	// IsolationWorkspace permits pure computation plus file access, for
	// writing artifacts into the isolation folder.
	IsolationWorkspace IsolationLevel = iota
	// IsolationReadOnly permits pure computation only; no filesystem.
	IsolationReadOnly
	// IsolationLocked is the minimal tier used for high-risk code that was
	// explicitly approved: string/number/collection packages only.
	IsolationLocked
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationWorkspace:
		return "workspace"
	case IsolationReadOnly:
		return "read-only"
	case IsolationLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Escalate returns the stricter of the two levels.
func (l IsolationLevel) Escalate(other IsolationLevel) IsolationLevel {
	if other > l {
		return other
	}
	return l
}

// allowedPackages returns the stdlib import allowlist for a level.
func allowedPackages(level IsolationLevel) map[string]bool {
	base := map[string]bool{
		"bytes":           true,
		"errors":          true,
		"fmt":             true,
		"math":            true,
		"math/big":        true,
		"math/rand":       true,
		"regexp":          true,
		"sort":            true,
		"strconv":         true,
		"strings":         true,
		"unicode":         true,
		"unicode/utf8":    true,
		"encoding/json":   true,
		"encoding/base64": true,
		"encoding/csv":    true,
		"encoding/hex":    true,
	}
	if level == IsolationLocked {
		return base
	}

	base["time"] = true
	base["bufio"] = true
	base["io"] = true
	base["container/heap"] = true
	base["container/list"] = true
	if level == IsolationReadOnly {
		return base
	}

	// workspace tier: artifact writes inside the isolation folder
	base["os"] = true
	base["path"] = true
	base["path/filepath"] = true
	return base
}
