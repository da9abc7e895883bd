package guardian

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// disallowedRoots are never referenced by a spawn command, quoted or not.
var disallowedRoots = []string{"/etc", "/usr", "/sys", "/proc", "/root"}

// SpawnRejected vetoes a command string before any subprocess is created.
type SpawnRejected struct {
	Command string
	Reason  string
}

func (e *SpawnRejected) Error() string {
	return "spawn rejected: " + e.Reason
}

// SanitizeCommand inspects a command string immediately before spawn.
// Shell metacharacters and command substitution are rejected, but the
// scan is quote-aware: metacharacters inside single- or double-quoted
// segments are inert because spawned commands never pass through a shell.
// Path rules apply everywhere: the static disallowed roots may not appear
// at all, and unquoted absolute arguments must fall inside the allowed
// roots.
func (g *Guardian) SanitizeCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return &SpawnRejected{Command: cmd, Reason: "empty command"}
	}

	if reason := scanMetachars(cmd); reason != "" {
		return &SpawnRejected{Command: cmd, Reason: reason}
	}

	for _, root := range disallowedRoots {
		if containsPathRef(cmd, root) {
			return &SpawnRejected{Command: cmd, Reason: "references disallowed root " + root}
		}
	}

	if containsEngineRef(cmd) {
		return &SpawnRejected{Command: cmd, Reason: "command re-invokes the engine"}
	}

	argv, err := Split(cmd)
	if err != nil {
		return &SpawnRejected{Command: cmd, Reason: err.Error()}
	}
	for _, tok := range argv {
		if strings.HasPrefix(tok, "/") && !g.underAllowedRoot(tok) {
			return &SpawnRejected{Command: cmd, Reason: fmt.Sprintf("path %s outside allowed roots", tok)}
		}
	}
	return nil
}

// scanMetachars walks the command tracking quote state and returns a
// rejection reason for the first bare metacharacter found.
func scanMetachars(cmd string) string {
	var inSingle, inDouble, escaped bool
	runes := []rune(cmd)
	for i, r := range runes {
		switch {
		case escaped:
			escaped = false
		case inSingle:
			if r == '\'' {
				inSingle = false
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			} else if r == '\\' {
				escaped = true
			}
		case r == '\\':
			escaped = true
		case r == '\'':
			inSingle = true
		case r == '"':
			inDouble = true
		case r == ';':
			return "contains ';'"
		case r == '|':
			return "contains '|'"
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			return "contains '&&'"
		case r == '`':
			return "contains backtick substitution"
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return "contains '$(' substitution"
		}
	}
	return ""
}

// containsPathRef reports whether s mentions root as a leading path
// component: "/etc" matches "cat /etc/passwd" but not "/etcetera" or
// "~/brain/etc/notes".
func containsPathRef(s, root string) bool {
	for idx := strings.Index(s, root); idx >= 0; {
		end := idx + len(root)
		startOK := idx == 0 || !isPathByte(s[idx-1])
		endOK := end == len(s) || s[end] == '/' || !isPathByte(s[end])
		if startOK && endOK {
			return true
		}
		rest := strings.Index(s[end:], root)
		if rest < 0 {
			return false
		}
		idx = end + rest
	}
	return false
}

func isPathByte(b byte) bool {
	return b == '/' || b == '~' || isWordByte(b)
}

// containsEngineRef reports whether s mentions the engine binary as a
// standalone word. Dotted names like ".piebrain" (the state directory)
// do not match.
func containsEngineRef(s string) bool {
	for idx := strings.Index(s, engineBinary); idx >= 0; {
		end := idx + len(engineBinary)
		beforeOK := idx == 0 || !isWordByte(s[idx-1])
		afterOK := end == len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return true
		}
		rest := strings.Index(s[end:], engineBinary)
		if rest < 0 {
			return false
		}
		idx = end + rest
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Quote wraps s in single quotes with embedded quotes escaped, so the
// result survives Split as one token. Builders use it for arguments
// that may carry whitespace or metacharacters.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Split tokenizes a command string into argv for direct execution.
// Single quotes preserve content literally; inside double quotes a
// backslash escapes the next rune; outside quotes a backslash escapes
// the next rune and whitespace separates tokens.
func Split(cmd string) ([]string, error) {
	var (
		argv     []string
		cur      strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
		hasTok   bool
	)
	for _, r := range cmd {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(r)
			}
		case inDouble:
			switch r {
			case '"':
				inDouble = false
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			hasTok = true
		case r == '\'':
			inSingle = true
			hasTok = true
		case r == '"':
			inDouble = true
			hasTok = true
		case unicode.IsSpace(r):
			if hasTok {
				argv = append(argv, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inSingle || inDouble {
		return nil, errors.New("unterminated quote")
	}
	if hasTok {
		argv = append(argv, cur.String())
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// BinaryName returns the program name a command would execute, for logs.
func BinaryName(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}
