package httpproxy

import (
	"strings"

	"github.com/sh4dak/dotnet/internal/httpx"
)

const (
	// networkUserAgent replaces the client's User-Agent on in-network
	// requests.
	networkUserAgent = "MYOB/6.66 (AN/ON)"

	// outproxyUserAgent is used for plain requests leaving the network.
	outproxyUserAgent = "Mozilla/5.0 (Windows NT 6.1; rv:60.0) Gecko/20100101 Firefox/60.0"
)

// sanitize drops headers that identify the client or reveal the proxy and
// forces the connection closed after one exchange unless it is being
// upgraded.
func sanitize(req *httpx.Request) {
	req.RemovePrefix("Referrer")
	req.RemovePrefix("Via")
	req.RemovePrefix("From")
	req.RemovePrefix("Forwarded")
	req.RemovePrefix("Accept", "Accept-Encoding")
	req.RemovePrefix("X-Forwarded")
	req.RemovePrefix("Proxy-")

	req.Set("User-Agent", networkUserAgent)

	if !strings.Contains(strings.ToLower(req.Get("Connection")), "upgrade") {
		req.Set("Connection", "close")
	}
}
