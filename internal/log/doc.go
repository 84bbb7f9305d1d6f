// Package log builds the router's slog.Logger. Records pass through a
// RedactingHandler that masks credentials before they reach any output:
// proxy authorization headers, outproxy URL passwords and the address
// book sealing key.
package log
