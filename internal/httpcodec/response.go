package httpcodec

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/go-reactor/webreactor/internal/buffer"
)

// Status codes this codec knows how to render. Connection.Process in
// internal/conn only ever asks for 200 or 400; MakeResponse itself switches
// a 200 to 403 or 404.
const (
	StatusOK                    = 200
	StatusBadRequest            = 400
	StatusForbidden             = 403
	StatusNotFound              = 404
	StatusRequestEntityTooLarge = 413
)

var statusText = map[int]string{
	StatusOK:                    "OK",
	StatusBadRequest:            "Bad Request",
	StatusForbidden:             "Forbidden",
	StatusNotFound:              "Not Found",
	StatusRequestEntityTooLarge: "Request Entity Too Large",
}

var errorBody = map[int]string{
	StatusBadRequest:            "<html><title>400 Bad Request</title><body>Your request has bad syntax.</body></html>",
	StatusForbidden:             "<html><title>403 Forbidden</title><body>You don't have permission to access this resource.</body></html>",
	StatusNotFound:              "<html><title>404 Not Found</title><body>The requested file was not found on this server.</body></html>",
	StatusRequestEntityTooLarge: "<html><title>413 Request Entity Too Large</title><body>The requested file is too large.</body></html>",
}

var suffixContentType = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
}

const defaultContentType = "application/octet-stream"

// Response builds an HTTP/1.1 response, mapping a file body into memory
// when serving a static path so the reactor's scatter/gather write path can
// hand the kernel a zero-copy slice.
type Response struct {
	code      int
	keepAlive bool
	path      string
	srcDir    string

	file    []byte
	fileLen int
}

// Init resets the responder for a new request. path is the request target;
// it is resolved against srcDir and must not escape it.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.UnmapFile()
	r.srcDir = srcDir
	r.path = path
	r.keepAlive = keepAlive
	r.code = code
}

// Code reports the status code this responder will render.
func (r *Response) Code() int { return r.code }

// File returns the mapped file body, if any, for the caller's scatter slot.
func (r *Response) File() []byte { return r.file }

// FileLen reports the length of the mapped file body.
func (r *Response) FileLen() int { return r.fileLen }

// UnmapFile releases the file mapping, if one is held. Idempotent.
func (r *Response) UnmapFile() error {
	if r.file == nil {
		return nil
	}
	err := unix.Munmap(r.file)
	r.file = nil
	r.fileLen = 0
	return err
}

// MakeResponse appends the status line, headers, and — for a successful
// static-file response — maps the body file into r.File(); for an error
// response it appends an inline HTML body directly to buff instead.
func (r *Response) MakeResponse(buff *buffer.Buffer) error {
	if r.code != StatusOK {
		r.addStateLine(buff)
		body := errorBody[r.code]
		r.addHeader(buff, "Content-Type", "text/html")
		r.addHeader(buff, "Content-Length", strconv.Itoa(len(body)))
		r.addConnectionHeader(buff)
		buff.AppendString("\r\n")
		buff.AppendString(body)
		return nil
	}

	full, ok := r.resolvePath()
	if !ok {
		r.code = StatusForbidden
		return r.MakeResponse(buff)
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		r.code = StatusNotFound
		return r.MakeResponse(buff)
	}

	if info.Size() > 0 {
		f, err := os.Open(full)
		if err != nil {
			r.code = StatusNotFound
			return r.MakeResponse(buff)
		}
		defer f.Close()

		mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			r.code = StatusNotFound
			return r.MakeResponse(buff)
		}
		r.file = mapped
		r.fileLen = len(mapped)
	}

	r.addStateLine(buff)
	r.addHeader(buff, "Content-Type", contentTypeFor(full))
	r.addHeader(buff, "Content-Length", strconv.Itoa(int(info.Size())))
	r.addConnectionHeader(buff)
	buff.AppendString("\r\n")
	return nil
}

// resolvePath joins path onto srcDir and rejects any traversal outside it.
func (r *Response) resolvePath() (string, bool) {
	root := filepath.Clean(r.srcDir)
	full := filepath.Join(root, r.path)
	if !strings.HasPrefix(full, root+string(os.PathSeparator)) && full != root {
		return "", false
	}
	if full == root {
		full = filepath.Join(root, "index.html")
	}
	return full, true
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := suffixContentType[ext]; ok {
		return ct
	}
	return defaultContentType
}

func (r *Response) addStateLine(buff *buffer.Buffer) {
	buff.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, statusText[r.code]))
}

func (r *Response) addHeader(buff *buffer.Buffer, key, val string) {
	buff.AppendString(fmt.Sprintf("%s: %s\r\n", key, val))
}

func (r *Response) addConnectionHeader(buff *buffer.Buffer) {
	if r.keepAlive {
		r.addHeader(buff, "Connection", "keep-alive")
	} else {
		r.addHeader(buff, "Connection", "close")
	}
}
