package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var (
	logFormatOnce sync.Once
	logAsJSON     bool

	logLevelOnce sync.Once
	minLevel     = levelInfo
)

// Debug logs a debug message; suppressed unless LOG_LEVEL=debug.
func Debug(component, msg string, kv ...interface{}) {
	if !enabled(levelDebug) {
		return
	}
	write("DEBUG", component, msg, kv...)
}

// Info logs a message with key/value fields using a consistent prefix.
func Info(component, msg string, kv ...interface{}) {
	if !enabled(levelInfo) {
		return
	}
	write("INFO", component, msg, kv...)
}

// Warn logs a warning message with key/value fields using a consistent prefix.
func Warn(component, msg string, kv ...interface{}) {
	if !enabled(levelWarn) {
		return
	}
	write("WARN", component, msg, kv...)
}

// Error logs an error message with key/value fields using a consistent prefix.
func Error(component, msg string, kv ...interface{}) {
	write("ERROR", component, msg, kv...)
}

func enabled(level int) bool {
	logLevelOnce.Do(func() {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
		case "debug":
			minLevel = levelDebug
		case "warn":
			minLevel = levelWarn
		case "error":
			minLevel = levelError
		default:
			minLevel = levelInfo
		}
	})
	return level >= minLevel
}

func jsonEnabled() bool {
	logFormatOnce.Do(func() {
		logAsJSON = strings.EqualFold(strings.TrimSpace(os.Getenv("MODELMUX_LOG_FORMAT")), "json")
	})
	return logAsJSON
}

func write(level, component, msg string, kv ...interface{}) {
	if jsonEnabled() {
		writeJSON(level, component, msg, kv...)
		return
	}
	if level == "INFO" {
		log.Printf("[%s] %s%s", strings.ToUpper(component), msg, formatFields(kv...))
		return
	}
	log.Printf("[%s] %s %s%s", strings.ToUpper(component), level, msg, formatFields(kv...))
}

func writeJSON(level, component, msg string, kv ...interface{}) {
	payload := map[string]any{
		"time":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": component,
		"msg":       msg,
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	for i := 0; i < len(kv); i += 2 {
		payload[toString(kv[i])] = kv[i+1]
	}
	line, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[%s] %s %s%s", strings.ToUpper(component), level, msg, formatFields(kv...))
		return
	}
	log.Print(string(line))
}

func formatFields(kv ...interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	b.WriteString(" ")
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(toString(kv[i])))
		b.WriteString("=")
		b.WriteString(toString(kv[i+1]))
	}
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(fmt.Sprintf("%v", t)), "\n", " "), "\t", " "))
	}
}
