package comm

import (
	"encoding/json"
	"fmt"
	"os"
)

var settings = &struct {
	noProgress bool
	quiet      bool
	verbose    bool
	json       bool
}{
	false,
	false,
	false,
	false,
}

// Configure sets all logging options in one go
func Configure(noProgress, quiet, verbose, jsonMode bool) {
	settings.noProgress = noProgress
	settings.quiet = quiet
	settings.verbose = verbose
	settings.json = jsonMode
}

type jsonMessage map[string]interface{}

// Opf prints a formatted string informing the user on what operation
// we're doing
func Opf(format string, args ...interface{}) {
	Logf("%s %s", theme.OpSign, fmt.Sprintf(format, args...))
}

// Statf prints a formatted string informing the user how the
// operation went
func Statf(format string, args ...interface{}) {
	Logf("%s %s", theme.StatSign, fmt.Sprintf(format, args...))
}

// Logf sends a formatted informational message to the client
func Logf(format string, args ...interface{}) {
	Loglf("info", format, args...)
}

// Warnf lets the user know about a non-critical problem
func Warnf(format string, args ...interface{}) {
	Loglf("warning", format, args...)
}

// Debugf messages are printed only when verbose
func Debugf(format string, args ...interface{}) {
	Loglf("debug", format, args...)
}

// Logl logs a message of a given level
func Logl(level string, msg string) {
	send("log", jsonMessage{
		"message": msg,
		"level":   level,
	})
}

// Loglf logs a formatted message of a given level
func Loglf(level string, format string, args ...interface{}) {
	Logl(level, fmt.Sprintf(format, args...))
}

// Dief exits with a non-zero exit code after giving a reason
func Dief(format string, args ...interface{}) {
	EndProgress()
	send("error", jsonMessage{
		"message": fmt.Sprintf(format, args...),
	})
	os.Exit(1)
}

func send(kind string, msg jsonMessage) {
	if settings.json {
		msg["type"] = kind
		payload, err := json.Marshal(msg)
		if err == nil {
			fmt.Println(string(payload))
		} else {
			fmt.Printf(`{"type": "error", "message": "JSON marshal error: %s"}%s`, err.Error(), "\n")
		}
		return
	}

	level, _ := msg["level"].(string)
	if level == "debug" && !settings.verbose {
		return
	}
	if settings.quiet && kind == "log" && level != "warning" {
		return
	}

	text, _ := msg["message"].(string)
	EndProgress()
	switch {
	case kind == "error":
		fmt.Fprintln(os.Stderr, text)
	case level == "warning":
		fmt.Printf("%s %s\n", theme.WarnSign, text)
	default:
		fmt.Println(text)
	}
}
