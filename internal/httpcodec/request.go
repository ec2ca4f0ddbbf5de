// Package httpcodec is the concrete request/response codec wired behind the
// reactor core's pluggable codec interface. The reactor core only depends
// on the method set here, never on HTTP per se — a different protocol
// could be served by swapping this package out.
package httpcodec

import (
	"bytes"
	"strings"

	"github.com/go-reactor/webreactor/internal/buffer"
)

// headerTerminator marks the end of the request-line + header block.
var headerTerminator = []byte("\r\n\r\n")

// Request is the result of a successful parse: just enough for the reactor
// core to drive response generation.
type Request struct {
	Method    string
	Path      string
	Version   string
	Headers   map[string]string
	KeepAlive bool
}

// ParseRequest consumes one complete request-line+header block from buf, if
// one is present. It mirrors the original codebase's simplifying
// assumption that a request that has arrived at all has arrived whole: an
// empty buffer means "wait for more data" (ok=false, syntaxErr=false); a
// non-empty buffer without a terminated header block is a syntax error, not
// a "come back later", and is consumed whole so a single malformed client
// can't wedge the connection.
//
// Once a header terminator is found, the bytes through it are retrieved
// from buf whether the block parses or not (a block that fails to parse is
// a syntax error), so any pipelined request that follows is left intact
// for the next call.
func ParseRequest(buf *buffer.Buffer) (req *Request, ok bool, syntaxErr bool) {
	if buf.ReadableBytes() == 0 {
		return nil, false, false
	}

	data := buf.Peek()
	idx := bytes.Index(data, headerTerminator)
	if idx < 0 {
		// Whatever arrived doesn't even contain a terminated header
		// block; treat it as malformed rather than waiting forever.
		buf.RetrieveAll()
		return nil, true, true
	}

	block := data[:idx]
	buf.Retrieve(idx + len(headerTerminator))

	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 {
		return nil, true, true
	}

	req = &Request{Headers: make(map[string]string)}
	if !parseRequestLine(lines[0], req) {
		return nil, true, true
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, val, found := strings.Cut(line, ":")
		if !found {
			return nil, true, true
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	req.KeepAlive = isKeepAlive(req)
	return req, true, false
}

func parseRequestLine(line string, req *Request) bool {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return false
	}
	method, path, version := fields[0], fields[1], fields[2]
	if method == "" || path == "" || !strings.HasPrefix(version, "HTTP/") {
		return false
	}
	switch method {
	case "GET", "HEAD", "POST", "PUT", "DELETE":
	default:
		return false
	}
	if !strings.HasPrefix(path, "/") {
		return false
	}
	req.Method = method
	req.Path = path
	req.Version = version
	return true
}

func isKeepAlive(req *Request) bool {
	conn := strings.ToLower(req.Headers["connection"])
	if conn != "" {
		return conn == "keep-alive"
	}
	return req.Version == "HTTP/1.1"
}
