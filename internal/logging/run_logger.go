package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RunLogger manages the detailed log file for a single orchestrator run.
// Structured logs go through zerolog; this file carries the full prompt and
// response dumps that are too bulky for the console.
type RunLogger struct {
	runID     string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

// StartRunLogging initializes logging for a new run.
func StartRunLogging(runID string) (*RunLogger, error) {
	timestamp := time.Now().Format("20060102_150405")
	logFileName := fmt.Sprintf("run_%s_%s.log", runID, timestamp)
	logPath := filepath.Join("run_logs", logFileName)

	if err := os.MkdirAll("run_logs", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &RunLogger{
		runID:     runID,
		logFile:   logFile,
		startTime: time.Now(),
	}

	logger.writeHeader()
	return logger, nil
}

// Log writes a message to the run log.
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.write(fmt.Sprintf(format, args...))
}

func (r *RunLogger) write(msg string) {
	if r.logFile == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(r.startTime)
	r.logFile.WriteString(fmt.Sprintf("[%s] [+%v] %s\n", timestamp, elapsed.Round(time.Millisecond), msg))
	r.logFile.Sync()
}

// LogSection writes a section header to the log.
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}

	separator := strings.Repeat("=", 80)
	r.Log("%s", separator)
	r.Log("= %s", title)
	r.Log("%s", separator)
}

// LogPrompt logs a prompt sent to the agent session or the model.
func (r *RunLogger) LogPrompt(label, prompt string) {
	if r == nil {
		return
	}

	r.LogSection(fmt.Sprintf("PROMPT - %s", label))
	r.Log("Prompt length: %d characters", len(prompt))
	r.Log("--- PROMPT START ---")
	r.mutex.Lock()
	r.logFile.WriteString(prompt + "\n")
	r.mutex.Unlock()
	r.Log("--- PROMPT END ---")
}

// LogResponse logs a model or agent response.
func (r *RunLogger) LogResponse(label, response string) {
	if r == nil {
		return
	}

	r.LogSection(fmt.Sprintf("RESPONSE - %s", label))
	r.Log("Response length: %d characters", len(response))
	r.Log("--- RESPONSE START ---")
	r.mutex.Lock()
	r.logFile.WriteString(response + "\n")
	r.mutex.Unlock()
	r.Log("--- RESPONSE END ---")
}

// LogError logs an error with its context.
func (r *RunLogger) LogError(where string, err error) {
	if r == nil {
		return
	}

	r.Log("ERROR in %s: %v", where, err)
}

// Close finalizes the log file.
func (r *RunLogger) Close() {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile != nil {
		r.write(fmt.Sprintf("Run logging completed. Total duration: %v", time.Since(r.startTime).Round(time.Millisecond)))
		r.logFile.Close()
		r.logFile = nil
	}
}

func (r *RunLogger) writeHeader() {
	header := fmt.Sprintf(`REVLOOP RUN LOG
Run ID: %s
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] message

`, r.runID, r.startTime.Format("2006-01-02 15:04:05"))

	r.logFile.WriteString(header)
	r.logFile.Sync()
}
