// Package httpx parses and rebuilds HTTP/1.x proxy requests at the byte
// level. Unlike net/http it keeps header order and spelling intact and
// leaves any bytes past the header block to the caller, so a rewritten
// request can be forwarded followed by whatever the client already sent.
package httpx
