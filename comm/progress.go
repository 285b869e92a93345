package comm

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// ProgressTheme contains the characters we need to show progress
type ProgressTheme struct {
	OpSign   string
	StatSign string
	WarnSign string
}

var themes = map[string]*ProgressTheme{
	"unicode": {"•", "✓", "▲"},
	"ascii":   {">", "<", "!"},
	"cp437":   {"∙", "√", "‼"},
}

func getCharset() string {
	if runtime.GOOS == "windows" && os.Getenv("OS") != "CYGWIN" {
		return "cp437"
	}

	var utf8 = ".UTF-8"
	if strings.Contains(os.Getenv("LC_ALL"), utf8) ||
		os.Getenv("LC_CTYPE") == "UTF-8" ||
		strings.Contains(os.Getenv("LANG"), utf8) {
		return "unicode"
	}

	return "ascii"
}

var theme = themes[getCharset()]

var progressShown = false
var lastLabel = ""

// Progress announces the degree of completion of the current
// operation, in the [0,1] interval
func Progress(alpha float64) {
	if settings.json {
		send("progress", jsonMessage{
			"progression": alpha,
		})
		return
	}

	if settings.noProgress || settings.quiet {
		return
	}

	fmt.Printf("\r%6.2f%% %s", alpha*100.0, lastLabel)
	progressShown = true
}

// ProgressLabel gives extra info about the task being run
func ProgressLabel(label string) {
	lastLabel = label
}

// PauseProgress temporarily stops printing progress
func PauseProgress() {
	EndProgress()
}

// ResumeProgress resumes printing progress
func ResumeProgress() {
	// next Progress call redraws
}

// EndProgress clears the progress line so log output starts clean
func EndProgress() {
	if progressShown {
		fmt.Printf("\r%s\r", strings.Repeat(" ", 8+len(lastLabel)))
		progressShown = false
	}
}
