// Package pathutil sanitizes project/folder names for filesystem safety,
// adorns long paths on platforms that need it, and classifies transient
// or editor-scratch files that must never participate in reconciliation.
package pathutil

import (
	"regexp"
	"runtime"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize strips filesystem-unsafe characters and control bytes,
// collapses whitespace runs, and trims trailing dots. An empty result
// becomes "Unnamed".
func Sanitize(name string) string {
	if name == "" {
		return "Unnamed"
	}
	cleaned := unsafeChars.ReplaceAllString(name, "")
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, ".")
	if cleaned == "" {
		return "Unnamed"
	}
	return cleaned
}

// ignorePatterns is the fixed glob list from the reconciliation design:
// transient editor files, download-in-progress markers, and our own
// bookkeeping files never participate in a sync pass.
var ignorePatterns = []string{
	"*.placeholder",
	"~$*",
	"*.tmp",
	".DS_Store",
	"Thumbs.db",
	".last_sync_state.json",
	"*.part",
	"*.crdownload",
	"*.temp",
	"*.swp",
	"*.swx",
	"*.lnk",
}

var hexSuffix = regexp.MustCompile(`\.[0-9A-Fa-f]{8}$`)
var hexSuffixInner = regexp.MustCompile(`^.+\..+\.[0-9A-Fa-f]{8}$`)

var ignoreMatcher = mustCompileIgnorer(ignorePatterns)

func mustCompileIgnorer(patterns []string) *ignore.GitIgnore {
	m := ignore.CompileIgnoreLines(patterns...)
	return m
}

// IsIgnored reports whether basename matches any of the fixed transient
// or editor-scratch globs, including hex-suffixed scratch names such as
// "report.docx.3f2a9c1e". Placeholders match here (they never carry
// content) but the Reconciler still processes them specially for folder
// creation before discarding them.
func IsIgnored(basename string) bool {
	// "~$*" is checked directly: the matcher turns patterns into regular
	// expressions, where "$" would act as an end anchor.
	if strings.HasPrefix(basename, "~$") {
		return true
	}
	if ignoreMatcher.MatchesPath(basename) {
		return true
	}
	return hexSuffixInner.MatchString(basename) && hexSuffix.MatchString(basename)
}

// LongPath extends a Windows drive-letter absolute path with the
// extended-length prefix so filesystem calls are not truncated by the
// legacy MAX_PATH limit. UNC paths and paths already carrying the
// prefix are left unchanged. On non-Windows platforms it is a no-op.
func LongPath(p string) string {
	if runtime.GOOS != "windows" {
		return p
	}
	if strings.HasPrefix(p, `\\?\`) {
		return p
	}
	if strings.HasPrefix(p, `\\`) {
		return `\\?\UNC\` + strings.TrimPrefix(p, `\\`)
	}
	if len(p) >= 2 && p[1] == ':' {
		return `\\?\` + p
	}
	return p
}
