package httpx

import (
	"bytes"
	"net/http"
	"strconv"
)

// Response is a minimal HTTP/1.1 response.
type Response struct {
	Code    int
	Status  string // defaults to http.StatusText(Code)
	Headers []Header
	Body    string
}

func (r *Response) Add(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Bytes serializes the response. Content-Length is added when there is a
// body.
func (r *Response) Bytes() []byte {
	status := r.Status
	if status == "" {
		status = http.StatusText(r.Code)
	}

	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(r.Code))
	b.WriteByte(' ')
	b.WriteString(status)
	b.WriteString("\r\n")

	headers := r.Headers
	if r.Body != "" {
		headers = append(headers[:len(headers):len(headers)], Header{Name: "Content-Length", Value: strconv.Itoa(len(r.Body))})
	}
	writeHeaders(&b, headers)
	b.WriteString(r.Body)
	return b.Bytes()
}
