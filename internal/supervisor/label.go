package supervisor

import (
	"path/filepath"
	"strconv"
	"strings"
)

// deriveLabelLocked builds a label from a path when the operator did not
// supply one: the last directory element plus the file name without its
// extension, joined by "_", lowercased, with anything outside
// [a-z0-9_] collapsed to "_". Collisions get a numeric suffix.
// Caller holds mu.
func (s *Supervisor) deriveLabelLocked(path string) string {
	base := DeriveLabel(path)
	if _, taken := s.entries[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if _, taken := s.entries[candidate]; !taken {
			return candidate
		}
	}
}

// DeriveLabel derives the base (collision-free) label for a path:
// "/var/log/apache2/error.log" → "apache2_error".
func DeriveLabel(path string) string {
	dir, file := filepath.Split(filepath.Clean(path))
	file = strings.TrimSuffix(file, filepath.Ext(file))

	parent := filepath.Base(filepath.Clean(dir))
	parts := []string{}
	if parent != "" && parent != "/" && parent != "." {
		parts = append(parts, parent)
	}
	if file != "" {
		parts = append(parts, file)
	}

	label := sanitize(strings.Join(parts, "_"))
	if label == "" {
		label = "log"
	}
	return label
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		if ok {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
