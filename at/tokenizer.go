package at

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with
// bufio.Scanner.
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is
// enabled, it would need modification to handle command echoes that
// precede the actual response.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	// Direct matches for final results
	switch line {
	case OK, ERROR:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcIndication),
		strings.HasPrefix(line, UrcTimeZone),
		strings.HasPrefix(line, UrcGnss),
		line == UrcReady:
		return TypeURC
	default:
		return TypeData
	}
}

// Error represents a failed final response line (ERROR, +CME ERROR: <n>,
// +CMS ERROR: <n>). Code is -1 when the modem did not report a numeric
// error code.
type Error struct {
	Line string
	Code int
}

func (e *Error) Error() string {
	if e.Code >= 0 {
		return fmt.Sprintf("modem reported %q (code %d)", e.Line, e.Code)
	}
	return fmt.Sprintf("modem reported %q", e.Line)
}

// NewError builds an Error from a final response line, extracting the
// numeric code from +CME ERROR / +CMS ERROR lines when present.
func NewError(line string) *Error {
	e := &Error{Line: line, Code: -1}
	for _, prefix := range []string{CmeError, CmsError} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			if code, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				e.Code = code
			}
		}
	}
	return e
}
