package httpproxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sh4dak/dotnet/internal/httpx"
)

const (
	helperParam = "dotnetaddresshelper"
	updateParam = "update"
)

// extractAddressHelper removes the address helper parameter, and an
// update=true sibling, from u's query. It reports the decoded helper value
// and whether an update was requested.
func extractAddressHelper(u *url.URL) (encoded string, update, ok bool) {
	if !strings.Contains(u.RawQuery, helperParam+"=") {
		return "", false, false
	}

	var kept []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		switch {
		case k == helperParam && !ok:
			val, err := url.QueryUnescape(v)
			if err != nil {
				return "", false, false
			}
			encoded, ok = val, true
		case k == updateParam && v == "true":
			update = true
		default:
			kept = append(kept, pair)
		}
	}
	if !ok {
		return "", false, false
	}
	u.RawQuery = strings.Join(kept, "&")
	return encoded, update, true
}

// addressHelper inserts or offers to update the mapping proposed by the
// request and answers with an info page. It never opens a stream.
func (h *reqHandler) addressHelper(req *httpx.Request, u *url.URL, encoded string, update bool) *Error {
	if !h.proxy.cfg.AddressHelper {
		h.logger().Warn("addresshelper request rejected")
		return newError(KindAddressHelperRejected, "Invalid request", "addresshelper is not supported", nil)
	}

	host, authority := requestHost(req, u)
	if host == "" {
		return newError(KindParse, "Invalid request", "Can't detect destination host from request", nil)
	}

	target := *u
	if target.Scheme == "" {
		target.Scheme = "http"
	}
	target.Host = authority

	if h.proxy.book.FindAddress(host) && !update {
		link := target
		q := helperParam + "=" + url.QueryEscape(encoded) + "&" + updateParam + "=true"
		if link.RawQuery != "" {
			q = link.RawQuery + "&" + q
		}
		link.RawQuery = q
		h.info("Addresshelper found", fmt.Sprintf(
			"Host %s <font color=red>already in router's addressbook</font>. Click <a href=\"%s\">here</a> to update record.",
			escapedHost(host), escapedHost(link.String())))
		return nil
	}

	if err := h.proxy.insertFromHelper(h.ctx, host, encoded); err != nil {
		if h.Dead() {
			return newError(KindCancelled, "Addresshelper", "", err)
		}
		return errorf(KindParse, "Invalid request", err, "addresshelper for %s is not a valid destination", host)
	}

	h.logger().Info("added address from addresshelper", "host", host)
	h.info("Addresshelper found", fmt.Sprintf(
		"Host %s added to router's addressbook from helper. Click <a href=\"%s\">here</a> to proceed.",
		escapedHost(host), escapedHost(target.String())))
	return nil
}
