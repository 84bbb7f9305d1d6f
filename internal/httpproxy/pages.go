package httpproxy

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/sh4dak/dotnet/internal/httpx"
)

const pageHead = "<head>\r\n" +
	"  <title>.NET HTTP proxy</title>\r\n" +
	"  <style type=\"text/css\">\r\n" +
	"    body { font: 100%/1.5em sans-serif; margin: 0; padding: 1.5em; background: #FAFAFA; color: #103456; }\r\n" +
	"    .header { font-size: 2.5em; text-align: center; margin: 1.5em 0; color: #894C84; }\r\n" +
	"  </style>\r\n" +
	"</head>\r\n"

// JumpService is a search service that can look up unknown hosts.
// Host names are appended to URL.
type JumpService struct {
	Name string
	URL  string
}

// DefaultJumpServices is used when none are configured.
var DefaultJumpServices = []JumpService{
	{Name: "dot.net", URL: "http://f26brxp77ydqc7cnjctnj75ktcgjhh3tqqvrgf4a6l25aqk3vp3a.dot.net/search/?q="},
}

var connectEstablished = (&httpx.Response{Code: 200, Status: "OK"}).Bytes()

func errorContent(title, description string) string {
	return "<h1>Proxy error: " + title + "</h1>\r\n<p>" + description + "</p>\r\n"
}

func infoContent(title, description string) string {
	return "<h1>Proxy info: " + title + "</h1>\r\n<p>" + description + "</p>\r\n"
}

func hostNotFoundContent(host string, jumps []JumpService) string {
	var b strings.Builder
	b.WriteString("<h1>Proxy error: Host not found</h1>\r\n")
	b.WriteString("<p>Remote host not found in router's addressbook</p>\r\n")
	b.WriteString("<p>You may try to find this host on jump services below:</p>\r\n")
	b.WriteString("<ul>\r\n")
	for _, js := range jumps {
		fmt.Fprintf(&b, "  <li><a href=\"%s\">%s</a></li>\r\n",
			html.EscapeString(js.URL+url.QueryEscape(host)), html.EscapeString(js.Name))
	}
	b.WriteString("</ul>\r\n")
	return b.String()
}

func (e *Error) content(jumps []JumpService) string {
	if e.Kind == KindHostNotFound {
		return hostNotFoundContent(e.Host, jumps)
	}
	return errorContent(e.Title, e.Description)
}

// proxyPage wraps content in the page every generated reply uses.
func proxyPage(content string) []byte {
	res := httpx.Response{Code: 500}
	res.Add("Content-Type", "text/html; charset=UTF-8")
	res.Add("Connection", "close")
	res.Body = "<html>\r\n" + pageHead + "<body>" + content + "</body>\r\n</html>\r\n"
	return res.Bytes()
}
