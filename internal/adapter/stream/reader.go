package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// record is the JSON payload of one data line.
type record struct {
	Text *string `json:"text"`
	Done bool    `json:"done"`
}

// lineReader reassembles SSE lines from an incrementally delivered body.
// Lines end at "\r\n", "\n" or a bare "\r". A line longer than maxLine is
// dropped whole instead of being buffered.
type lineReader struct {
	br      *bufio.Reader
	maxLine int
	line    []byte
	logger  *slog.Logger

	overflow bool
	skipLF   bool  // last line ended in '\r'; a following '\n' belongs to it
	err      error // read error held back while a final line is returned
}

func newLineReader(r io.Reader, maxLine int, logger *slog.Logger) *lineReader {
	return &lineReader{
		br:      bufio.NewReaderSize(r, 32*1024),
		maxLine: maxLine,
		logger:  logger,
	}
}

// next returns the next complete line without its line terminator. A final
// line that is not terminated is returned before the read error.
func (lr *lineReader) next() ([]byte, error) {
	if lr.err != nil {
		return nil, lr.err
	}
	lr.line = lr.line[:0]
	lr.overflow = false
	for {
		if _, err := lr.br.Peek(1); err != nil {
			if len(lr.line) > 0 && !lr.overflow {
				lr.err = err
				return lr.line, nil
			}
			return nil, err
		}
		chunk, _ := lr.br.Peek(lr.br.Buffered())

		if lr.skipLF {
			lr.skipLF = false
			if chunk[0] == '\n' {
				_, _ = lr.br.Discard(1)
				continue
			}
		}

		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			lr.append(chunk)
			_, _ = lr.br.Discard(len(chunk))
			continue
		}
		lr.append(chunk[:i])
		lr.skipLF = chunk[i] == '\r'
		_, _ = lr.br.Discard(i + 1)

		if lr.overflow {
			lr.logger.Warn("sse line exceeds limit, dropped", "max_bytes", lr.maxLine)
			lr.overflow = false
			lr.line = lr.line[:0]
			continue
		}
		return lr.line, nil
	}
}

func (lr *lineReader) append(frag []byte) {
	if lr.overflow {
		return
	}
	if len(lr.line)+len(frag) > lr.maxLine {
		lr.overflow = true
		lr.line = lr.line[:0]
		return
	}
	lr.line = append(lr.line, frag...)
}

// frame is the outcome of decoding one line.
type frame struct {
	text    string
	hasText bool
	done    bool
}

// decodeLine interprets one SSE line. ok is false for lines that carry
// nothing: blanks, comments, other fields, empty data and undecodable
// records (which are logged and skipped).
func decodeLine(line []byte, logger *slog.Logger) (f frame, ok bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return frame{}, false
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if len(data) == 0 {
		return frame{}, false
	}
	if bytes.Equal(data, doneMarker) {
		return frame{done: true}, true
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warn("skipping undecodable sse record", "error", err, "bytes", len(data))
		return frame{}, false
	}
	if rec.Text == nil && !rec.Done {
		return frame{}, false
	}
	if rec.Text != nil {
		f.text, f.hasText = *rec.Text, true
	}
	f.done = rec.Done
	return f, true
}
