package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// MaxHeaderBytes bounds the request line plus header block.
const MaxHeaderBytes = 64 << 10

var ErrMalformed = errors.New("malformed http request")

var methods = map[string]bool{
	"GET":      true,
	"HEAD":     true,
	"POST":     true,
	"PUT":      true,
	"PATCH":    true,
	"DELETE":   true,
	"OPTIONS":  true,
	"CONNECT":  true,
	"PROPFIND": true,
}

var crlf2 = []byte("\r\n\r\n")

type Header struct {
	Name  string
	Value string
}

// Request is a parsed request head.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers []Header
}

// ParseRequest parses one request head from the start of buf. It returns
// (nil, 0, nil) when buf does not yet hold a complete head, and otherwise
// either an error wrapping ErrMalformed or the request and the number of
// bytes it occupied. The result depends only on buf.
func ParseRequest(buf []byte) (*Request, int, error) {
	end := bytes.Index(buf, crlf2)
	if end < 0 {
		if len(buf) > MaxHeaderBytes {
			return nil, 0, fmt.Errorf("%w: header block exceeds %d bytes", ErrMalformed, MaxHeaderBytes)
		}
		return nil, 0, nil
	}
	if end > MaxHeaderBytes {
		return nil, 0, fmt.Errorf("%w: header block exceeds %d bytes", ErrMalformed, MaxHeaderBytes)
	}

	lines := strings.Split(string(buf[:end]), "\r\n")

	req, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, 0, err
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		value = strings.TrimSpace(value)
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, 0, fmt.Errorf("%w: bad header name %q", ErrMalformed, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, 0, fmt.Errorf("%w: bad value for header %s", ErrMalformed, name)
		}
		req.Headers = append(req.Headers, Header{Name: name, Value: value})
	}

	return req, end + len(crlf2), nil
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: bad request line %q", ErrMalformed, line)
	}
	method, uri, version := parts[0], parts[1], parts[2]

	if !methods[method] {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrMalformed, method)
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: empty request uri", ErrMalformed)
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformed, version)
	}

	return &Request{Method: method, URI: uri, Version: version}, nil
}

// Get returns the value of the first header named name, compared
// case-insensitively, or "".
func (r *Request) Get(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Set replaces the value of the first header named name, or appends the
// header if there is none.
func (r *Request) Set(name, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Add(name, value)
}

func (r *Request) Add(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// RemovePrefix drops every header whose name starts with prefix, ignoring
// case, except headers named exactly one of keep.
func (r *Request) RemovePrefix(prefix string, keep ...string) {
	out := r.Headers[:0]
next:
	for _, h := range r.Headers {
		if len(h.Name) >= len(prefix) && strings.EqualFold(h.Name[:len(prefix)], prefix) {
			for _, k := range keep {
				if strings.EqualFold(h.Name, k) {
					out = append(out, h)
					continue next
				}
			}
			continue
		}
		out = append(out, h)
	}
	r.Headers = out
}

// Bytes serializes the request head, including the terminating blank line.
func (r *Request) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URI)
	b.WriteByte(' ')
	b.WriteString(r.Version)
	b.WriteString("\r\n")
	writeHeaders(&b, r.Headers)
	return b.Bytes()
}

func writeHeaders(b *bytes.Buffer, headers []Header) {
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
}
