package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/config"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View bridge logs",
	Long: `View and filter the bridge log file.

Logs are read from shadowbridge.log under logging.dir. A bridge that logs
to stderr (logging.dir empty) has no log file to show.

Examples:
  # Show last 50 lines
  shadowbridge logs

  # Follow logs in real-time
  shadowbridge logs -f

  # Only warnings and errors from the delta handler
  shadowbridge logs --level warn --component delta

  # Show logs from the last hour
  shadowbridge logs --since 1h

  # Search for specific patterns
  shadowbridge logs --grep "write failed|not authorized"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsComponent string
	logsNoColor   bool
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only show one component (poller, delta, mqtt, opcua, ...)")
	logsCmd.Flags().BoolVar(&logsNoColor, "no-color", false, "Disable colored output")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	Thing     string         `json:"thing,omitempty"`
	Shadow    string         `json:"shadow,omitempty"`
	Component string         `json:"component,omitempty"`
	Extra     map[string]any `json:"-"` // Captures additional fields
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	// First, unmarshal known fields using a type alias to avoid recursion
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	for _, known := range []string{"time", "level", "msg", "thing", "shadow", "component"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

// logFilter selects the entries shown by the logs command.
type logFilter struct {
	minLevel  int
	since     time.Time
	grep      *regexp.Regexp
	component string
}

func (f logFilter) match(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.component != "" && entry.Component != f.component {
		return false
	}
	if f.grep != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}

// formatLogEntry formats a log entry for terminal output. Extra fields are
// sorted so the output is stable.
func formatLogEntry(entry *logEntry, color bool) string {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + colorReset
	}

	var sb strings.Builder
	sb.WriteString(paint(colorGray, "["+entry.Time.Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(paint(levelColor(entry.Level), "["+strings.ToUpper(entry.Level)+"]"))
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, entry.Component+":"))
	}
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.Shadow != "" {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, "shadow=") + entry.Shadow)
	}

	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, k+"="))
		sb.WriteString(fmt.Sprintf("%v", entry.Extra[k]))
	}

	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if cfg.Logging.Dir == "" {
		fmt.Fprintln(out, "logging.dir is not set; the bridge logs to stderr.")
		return nil
	}
	logPath := filepath.Join(cfg.Logging.Dir, logging.FileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No logs found at", logPath)
		return nil
	}

	filter := logFilter{minLevel: -1, component: logsComponent}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-duration)
	}
	if logsGrep != "" {
		filter.grep, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return followLogs(ctx, out, logPath, filter, !logsNoColor)
	}
	return displayLogs(out, logPath, logsTail, filter, !logsNoColor)
}

// displayLogs reads the log file and writes the last tail matching entries.
func displayLogs(out io.Writer, logPath string, tail int, filter logFilter, color bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			entries = append(entries, line)
			continue
		}
		if !filter.match(&entry) {
			continue
		}
		entries = append(entries, formatLogEntry(&entry, color))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior until ctx is cancelled.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter logFilter, color bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("error reading log file: %w", err)
			}
			// Keep a half-written line until the rest arrives.
			partial += chunk
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		line := strings.TrimSpace(partial + chunk)
		partial = ""
		if line == "" {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		if filter.match(&entry) {
			fmt.Fprintln(out, formatLogEntry(&entry, color))
		}
	}
}
