// Package wire implements the byte-level SMTP reply parser and the DATA-mode
// dot-stuffing writer. Both types consume and produce raw byte slices rather
// than blocking on an io.Reader/io.Writer, since the client they serve is
// driven by transport callbacks instead of blocking reads.
package wire

import "strconv"

// Reply is a single complete SMTP server reply: a three-digit status code,
// the accumulated text lines of a (possibly multi-line) reply, and whether
// the code falls in the 2xx success range.
type Reply struct {
	StatusCode int
	Lines      []string
	StatusLine string
	Success    bool
}

// ReplyParser reassembles an arbitrary sequence of byte chunks into complete
// Reply values. It never blocks: Feed buffers incomplete data until a
// terminating line arrives.
type ReplyParser struct {
	buf     []byte
	pending []string
}

// Feed appends data to the internal buffer and returns every Reply completed
// by the newly available bytes, in order. Feeding the same byte stream in any
// chunking produces the same sequence of replies (split-invariance).
func (p *ReplyParser) Feed(data []byte) []Reply {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	var out []Reply
	for {
		idx := indexCRLF(p.buf)
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+2:]
		if reply, ok := p.consumeLine(line); ok {
			out = append(out, reply)
		}
	}
	return out
}

// Reset clears all pending state, discarding any partially accumulated reply
// or buffered bytes. Used on hard protocol errors.
func (p *ReplyParser) Reset() {
	p.buf = nil
	p.pending = nil
}

// consumeLine interprets one CRLF-delimited line, returning a completed Reply
// when the line terminates a (possibly multi-line) server response.
func (p *ReplyParser) consumeLine(line []byte) (Reply, bool) {
	if len(line) < 4 || !isDigit(line[0]) || !isDigit(line[1]) || !isDigit(line[2]) {
		p.pending = nil
		raw := string(line)
		return Reply{
			StatusCode: 500,
			Lines:      []string{raw},
			StatusLine: raw,
			Success:    false,
		}, true
	}

	code, err := strconv.Atoi(string(line[:3]))
	if err != nil {
		p.pending = nil
		raw := string(line)
		return Reply{StatusCode: 500, Lines: []string{raw}, StatusLine: raw, Success: false}, true
	}

	marker := line[3]
	text := string(line[4:])
	p.pending = append(p.pending, text)

	if marker == '-' {
		return Reply{}, false
	}

	// ' ' terminates per RFC 5321 §4.2; any other byte is treated as a
	// terminator too, for robustness against malformed servers.
	lines := p.pending
	p.pending = nil
	return Reply{
		StatusCode: code,
		Lines:      lines,
		StatusLine: lines[len(lines)-1],
		Success:    code >= 200 && code < 300,
	}, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// indexCRLF returns the index of the first "\r\n" in b, or -1 if absent.
func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
