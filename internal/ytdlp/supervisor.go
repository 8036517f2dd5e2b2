package ytdlp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"unicode/utf8"

	"mediafetch/internal/parser"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Invocation is one external process run.
type Invocation struct {
	Tool ToolResolution
	Args []string
	Env  map[string]string
}

// CommandLine renders the invocation for logs, quoting arguments with spaces.
func (inv Invocation) CommandLine() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, quoteArg(inv.Tool.Command))
	for _, a := range inv.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if strings.ContainsAny(a, " \t") {
		return `"` + a + `"`
	}
	return a
}

// Line is one completed output line, already parsed and classified.
type Line struct {
	Stream OutputStream
	Text   string

	Update parser.Update
	Parsed bool
	Class  Classification

	// DecodeWarning is set when the raw bytes were not valid UTF-8 and had to
	// be repaired, or when a stream could not be read to the end.
	DecodeWarning string
}

// Result describes how a process terminated.
type Result struct {
	ExitCode          int
	OutputPath        string
	OutputConfirmed   bool
	FormatUnavailable bool
	DownloaderError   bool
	DecodeWarnings    int
	StderrTail        string
	StartErr          error
}

func (r Result) OK() bool {
	return r.ExitCode == 0
}

type lineEvent struct {
	stream OutputStream
	text   string
	err    error
}

// Run spawns the process and blocks until it exits. Each stream is read by
// its own goroutine; parsing and the handler run on the calling goroutine in
// arrival order. A spawn failure yields exit code 1.
func Run(inv Invocation, handle func(Line)) Result {
	if handle == nil {
		handle = func(Line) {}
	}
	cmd := exec.Command(inv.Tool.Command, inv.Args...)
	cmd.Env = processEnv(inv.Env)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: 1, StartErr: fmt.Errorf("setup stdout pipe: %w", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: 1, StartErr: fmt.Errorf("setup stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: 1, StartErr: fmt.Errorf("start %s: %w", inv.Tool.Name, err)}
	}

	events := make(chan lineEvent, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(StreamStdout, stdoutPipe, events, &wg)
	go pump(StreamStderr, stderrPipe, events, &wg)
	go func() {
		wg.Wait()
		close(events)
	}()

	var res Result
	var errBuf strings.Builder
	for ev := range events {
		if ev.err != nil {
			res.DecodeWarnings++
			handle(Line{Stream: ev.stream, DecodeWarning: ev.err.Error()})
			continue
		}
		line := Line{Stream: ev.stream, Text: ev.text}
		if !utf8.ValidString(line.Text) {
			res.DecodeWarnings++
			line.Text = strings.ToValidUTF8(line.Text, "\uFFFD")
			line.DecodeWarning = "invalid UTF-8 in process output"
		}
		line.Update, line.Parsed = parser.Parse(line.Text)
		if line.Parsed && line.Update.OutputPath != "" {
			trackOutputPath(&res, line.Update)
		}
		if ev.stream == StreamStderr {
			line.Class = Classify(line.Text)
			res.FormatUnavailable = res.FormatUnavailable || line.Class.FormatUnavailable
			res.DownloaderError = res.DownloaderError || line.Class.DownloaderError
			appendLimited(&errBuf, line.Text)
		}
		handle(line)
	}

	res.StderrTail = strings.TrimSpace(errBuf.String())
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
	}
	return res
}

// The completion marker is authoritative; destination lines only fill in
// until it has been seen.
func trackOutputPath(res *Result, u parser.Update) {
	if u.Confirmed {
		res.OutputPath = u.OutputPath
		res.OutputConfirmed = true
		return
	}
	if !res.OutputConfirmed {
		res.OutputPath = u.OutputPath
	}
}

func pump(stream OutputStream, r io.Reader, out chan<- lineEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		out <- lineEvent{stream: stream, text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		out <- lineEvent{stream: stream, err: fmt.Errorf("read %s: %w", stream, err)}
		// keep the pipe drained so the child cannot block on a full buffer
		_, _ = io.Copy(io.Discard, r)
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		cut := remain
		for cut > 0 && !utf8.RuneStart(toWrite[cut]) {
			cut--
		}
		toWrite = toWrite[:cut]
	}
	b.WriteString(toWrite)
}
