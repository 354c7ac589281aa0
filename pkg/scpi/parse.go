// Package scpi is the control plane: a SCPI-like line protocol that
// configures the device and arms or stops acquisition.
package scpi

import (
	"bytes"
	"strings"
	"unicode"
)

// Command is one parsed control line.
//
//	[subject:]NAME[?][ arg1[,arg2,...]]
//
// Only the first colon separates the subject; later ones belong to the name,
// so TRIG:EDGE:DIR parses as subject TRIG, name EDGE:DIR.
type Command struct {
	Subject string
	Name    string
	Query   bool
	Args    []string
}

// Parse splits a line into a Command. Runs of delimiters collapse, and a '?'
// anywhere marks a query without becoming part of a token.
func Parse(line string) Command {
	var (
		c          Command
		tok        strings.Builder
		haveSubj   bool
		readingCmd = true
	)

	flush := func() {
		if tok.Len() == 0 {
			return
		}
		if readingCmd {
			c.Name = tok.String()
			readingCmd = false
		} else {
			c.Args = append(c.Args, strings.TrimSpace(tok.String()))
		}
		tok.Reset()
	}

	for _, r := range line {
		switch {
		case r == ':' && !haveSubj && readingCmd:
			c.Subject = tok.String()
			haveSubj = true
			tok.Reset()
		case r == '?':
			c.Query = true
		case r == ',':
			flush()
		case unicode.IsSpace(r) && readingCmd:
			flush()
		case unicode.IsSpace(r) && tok.Len() == 0:
			// leading space before an argument
		default:
			tok.WriteRune(r)
		}
	}
	flush()
	return c
}

// ScanCommands is a bufio.SplitFunc yielding one command per newline or
// semicolon, with a trailing carriage return removed. Empty commands are
// skipped.
func ScanCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for {
		i := bytes.IndexAny(data[start:], "\n;")
		if i < 0 {
			break
		}
		end := start + i
		tok := bytes.TrimRight(data[start:end], "\r")
		if len(bytes.TrimSpace(tok)) > 0 {
			return end + 1, tok, nil
		}
		start = end + 1
	}
	if atEOF {
		if rest := bytes.TrimRight(data[start:], "\r"); len(bytes.TrimSpace(rest)) > 0 {
			return len(data), rest, nil
		}
		return len(data), nil, nil
	}
	// Request more data, but drop the blank commands already seen.
	return start, nil, nil
}
