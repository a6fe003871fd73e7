package genclient

import (
	"bytes"
	"io"
	"strings"
)

var (
	crlf     = []byte("\r\n")
	cr       = []byte("\r")
	lf       = []byte("\n")
	blockSep = []byte("\n\n")
)

// Decoder splits a server-sent-event byte stream into blank-line-delimited
// blocks. Line endings are normalized to \n before delimiter detection, so
// \r\n and bare \r framing are accepted. Reads may split a block anywhere.
type Decoder struct {
	r       io.Reader
	scratch []byte
	buf     []byte
	carryCR bool
	done    bool
	err     error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, scratch: make([]byte, 4096)}
}

// Next returns the next non-blank block without its trailing delimiter.
// When the stream ends, whatever is left in the buffer is returned as a
// final block. After that Next returns io.EOF, or the underlying read error
// if the stream did not end cleanly.
func (d *Decoder) Next() (string, error) {
	for {
		if i := bytes.Index(d.buf, blockSep); i >= 0 {
			block := string(d.buf[:i])
			d.buf = d.buf[i+len(blockSep):]
			if strings.TrimSpace(block) == "" {
				continue
			}
			return block, nil
		}

		if d.done {
			rest := strings.TrimRight(string(d.buf), "\n")
			d.buf = nil
			if strings.TrimSpace(rest) != "" {
				return rest, nil
			}
			return "", d.err
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.append(d.scratch[:n])
		}
		if err != nil {
			d.done = true
			d.err = err
			if d.carryCR {
				d.buf = append(d.buf, '\n')
				d.carryCR = false
			}
		}
	}
}

// append normalizes line endings in p and adds it to the buffer. A trailing
// \r is held back because the next read may start with the matching \n.
func (d *Decoder) append(p []byte) {
	data := make([]byte, 0, len(p)+1)
	if d.carryCR {
		data = append(data, '\r')
		d.carryCR = false
	}
	data = append(data, p...)
	if data[len(data)-1] == '\r' {
		d.carryCR = true
		data = data[:len(data)-1]
	}
	data = bytes.ReplaceAll(data, crlf, lf)
	data = bytes.ReplaceAll(data, cr, lf)
	d.buf = append(d.buf, data...)
}
