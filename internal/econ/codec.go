package econ

import (
	"bufio"
	"io"
	"strings"
)

// lineReader frames the ECON byte stream into text lines.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// ReadLine blocks until a complete newline-terminated line is read.
// NUL bytes are removed and trailing whitespace is trimmed. A partial line
// followed by EOF is reported as an error.
func (lr *lineReader) ReadLine() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return cleanLine(line), nil
}

func cleanLine(line string) string {
	line = strings.ReplaceAll(line, "\x00", "")
	return strings.TrimRightFunc(line, isTrailingSpace)
}

func isTrailingSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '\v' || r == '\f'
}

// writeLine writes one protocol line and flushes it.
func writeLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
