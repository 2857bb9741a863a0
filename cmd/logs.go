package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/grovetools/slidesync/cli"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/pkg/paths"
)

// TailedLine is one line of log output from a named process.
type TailedLine struct {
	Process string
	Line    string
}

var logProcesses = []string{"serve", "ingest"}

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [serve|ingest]",
		Short: "Show logs written by processes started with `slidesync run`",
		Long: `Prints the log files of the serving and ingest processes. Processes started
by 'slidesync run' write to the state directory; with no argument both files
are shown.`,
		Example: `  # Follow both processes
  slidesync logs -f

  # Last 50 lines of the ingest process as JSON Lines
  slidesync logs ingest --tail 50 --json`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: logProcesses,
		RunE:      runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of each log (default: all)")
	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")

	processes := logProcesses
	if len(args) == 1 {
		if args[0] != "serve" && args[0] != "ingest" {
			return apperrors.ValidationFailed("process", "serve or ingest")
		}
		processes = args[:1]
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	lineChan := make(chan TailedLine, 100)
	var wg sync.WaitGroup
	found := 0
	for _, name := range processes {
		path := paths.LogFile(name)
		if _, err := os.Stat(path); err != nil {
			if !follow {
				continue
			}
		} else {
			found++
		}
		wg.Add(1)
		go func(name, path string) {
			defer wg.Done()
			tailLogFile(ctx, name, path, lineChan, follow, tailLines)
		}(name, path)
	}
	if found == 0 && !follow {
		return apperrors.New(apperrors.ErrCodeNotFound, "no log files found").
			WithDetail("dir", paths.StateDir())
	}

	go func() {
		wg.Wait()
		close(lineChan)
	}()

	out := cmd.OutOrStdout()
	for line := range lineChan {
		if opts.JSONOutput {
			printLogJSON(out, line)
		} else {
			printLogText(out, line)
		}
	}
	return nil
}

// tailLogFile sends the last tailLines lines of path, then new lines while
// following. A missing file is waited for when following.
func tailLogFile(ctx context.Context, name, path string, lineChan chan<- TailedLine, follow bool, tailLines int) {
	var offset int64
	if f, err := os.Open(path); err == nil {
		info, err := f.Stat()
		if err == nil {
			offset = info.Size()
			for _, line := range lastLines(io.LimitReader(f, offset), tailLines) {
				lineChan <- TailedLine{Process: name, Line: line}
			}
		}
		f.Close()
	}
	if !follow {
		return
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return
	}
	defer t.Cleanup()

	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		lineChan <- TailedLine{Process: name, Line: strings.TrimRight(line.Text, "\r")}
	}
}

// lastLines returns the non-empty lines of r, only the last n when n >= 0.
func lastLines(r io.Reader, n int) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if n >= 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// printLogJSON prints a log line as JSON, enriched with the process name.
func printLogJSON(w io.Writer, tailed TailedLine) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailed.Line), &logMap); err != nil {
		logMap = map[string]interface{}{"raw_line": tailed.Line}
	}
	logMap["process"] = tailed.Process
	data, _ := json.Marshal(logMap)
	fmt.Fprintln(w, string(data))
}

// printLogText pretty-prints a JSON log line and passes text lines through.
func printLogText(w io.Writer, tailed TailedLine) {
	process := cli.CommandStyle.Render(fmt.Sprintf("%-6s", tailed.Process))

	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailed.Line), &logMap); err != nil {
		fmt.Fprintf(w, "%s %s\n", process, tailed.Line)
		return
	}

	ts, _ := logMap["time"].(string)
	level, _ := logMap["level"].(string)
	msg, _ := logMap["msg"].(string)
	component, _ := logMap["component"].(string)

	timeStr := ts
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		timeStr = parsed.Format("15:04:05")
	}

	var levelStyle lipgloss.Style
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		levelStyle = cli.ErrorStyle
	case "warning":
		levelStyle = cli.TitleStyle
	case "info":
		levelStyle = cli.SuccessStyle
	default:
		levelStyle = cli.MutedStyle
	}

	keys := []string{}
	for k := range logMap {
		switch k {
		case "time", "level", "msg", "component":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", cli.MutedStyle.Render(k), logMap[k]))
	}

	fmt.Fprintf(w, "%s %s %s %s [%s] %s\n",
		timeStr,
		process,
		levelStyle.Render(strings.ToUpper(level)),
		msg,
		cli.MutedStyle.Render(component),
		strings.Join(fields, " "),
	)
}
