//go:build windows

package security

import "strings"

// normcase lower-cases a Windows path the way os.path.normcase does,
// so drive-letter casing never affects the path-jail comparison.
func normcase(p string) string { return strings.ToLower(p) }
