// Package request parses an HTTP/1.0 GET request off a client
// connection, decomposes its target into (hostname, port, path), and
// rewrites its headers into the fixed form the proxy forwards to the
// origin. Nothing here is protocol-general: only GET is accepted and
// only the header substitutions the proxy's policy names are applied.
package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mendesjr/fproxy/internal/netio"
	"github.com/mendesjr/fproxy/internal/proxyerr"
)

// Fixed headers appended to every rewritten request, replacing
// whatever the client sent for the same concerns. Lifted verbatim from
// the reference proxy so that origins see the same client fingerprint
// regardless of what actually connected to the proxy.
const (
	userAgentHeader       = "User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3\r\n"
	acceptHeader          = "Accept: text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8\r\n"
	acceptEncodingHeader  = "Accept-Encoding: gzip, deflate\r\n"
	connectionHeader      = "Connection: close\r\n"
	proxyConnectionHeader = "Proxy-Connection: close\r\n"
)

// discardPrefixes are matched by substring, not by line anchor, so a
// header is stripped if the literal prefix appears anywhere in the
// line — matching the reference implementation's strstr-based check
// rather than a stricter start-of-line match.
var discardPrefixes = []string{
	"User-Agent: ",
	"Accept: ",
	"Accept-Encoding: ",
	"Connection: ",
	"Proxy-Connection: ",
}

// hostPrefix is matched case-insensitively on the header name (but not
// on the header value) per the design's resolution of the reference
// implementation's case-sensitive "Host: " substring check.
const hostPrefix = "Host: "

// ErrNotGET marks a request whose method is not GET.
var ErrNotGET = errors.New("request: method is not GET")

// ErrNoHost marks a request with no host in the request line and no
// Host header.
var ErrNoHost = errors.New("request: no host in request line or headers")

// ErrBadPort marks a host:port pair whose port did not parse, or
// whose explicit port is zero.
var ErrBadPort = errors.New("request: invalid port")

// Request is a parsed and rewritten GET request ready to forward to
// hostname:port.
type Request struct {
	Method   string
	Hostname string
	Port     int
	Path     string
	Raw      []byte // the rewritten request, ready to write to the origin
}

// CanonicalKey returns the cache lookup key for this request, built
// from the effective host, port, and path.
func (r *Request) CanonicalKey() string {
	return fmt.Sprintf("%s:%d%s", r.Hostname, r.Port, r.Path)
}

// Parse reads one HTTP/1.0 GET request from bc and returns its parsed
// and rewritten form. A failure to read the request line is returned
// unwrapped as it came from ReadLine (io.EOF for a connection closed
// before any bytes arrive, which is an ordinary idle-close, not a
// protocol violation); every later failure is a *proxyerr.Error.
func Parse(bc *netio.BufferedConn) (*Request, error) {
	line, err := bc.ReadLine()
	if err != nil {
		return nil, err
	}

	method, uri, _, err := parseRequestLine(line)
	if err != nil {
		return nil, proxyerr.New(proxyerr.ClientProtocol, "parse request line", err)
	}
	if method != "GET" {
		return nil, proxyerr.New(proxyerr.ClientProtocol, "method", ErrNotGET)
	}

	rawHost, path := splitURI(uri)

	hostname, port, err := splitHostPort(rawHost)
	if err != nil {
		return nil, proxyerr.New(proxyerr.ClientProtocol, "extract host", err)
	}

	var kept []string
	hostHeaderSeen := false

	for {
		headerLine, err := bc.ReadLine()
		if err != nil {
			return nil, proxyerr.New(proxyerr.ClientProtocol, "read headers", err)
		}
		if headerLine == "\r\n" {
			break
		}

		if containsHostPrefix(headerLine) {
			kept = append(kept, headerLine)
			hostHeaderSeen = true

			value := strings.TrimSuffix(trimHostPrefix(headerLine), "\r\n")
			h, p, err := splitHostPort(value)
			if err != nil {
				return nil, proxyerr.New(proxyerr.ClientProtocol, "extract host from Host header", err)
			}
			hostname, port = h, p
			continue
		}

		if isDiscarded(headerLine) {
			continue
		}

		kept = append(kept, headerLine)
	}

	if !hostHeaderSeen && hostname == "" {
		return nil, proxyerr.New(proxyerr.ClientProtocol, "missing host", ErrNoHost)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", path)
	for _, h := range kept {
		b.WriteString(h)
	}
	if !hostHeaderSeen {
		fmt.Fprintf(&b, "Host: %s\r\n", rawHost)
	}
	b.WriteString(userAgentHeader)
	b.WriteString(acceptHeader)
	b.WriteString(acceptEncodingHeader)
	b.WriteString(connectionHeader)
	b.WriteString(proxyConnectionHeader)
	b.WriteString("\r\n")

	return &Request{
		Method:   method,
		Hostname: hostname,
		Port:     port,
		Path:     path,
		Raw:      []byte(b.String()),
	}, nil
}

func parseRequestLine(line string) (method, uri, version string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", "", "", fmt.Errorf("malformed request line %q", line)
	}
	return fields[0], fields[1], fields[2], nil
}

// splitURI decomposes a request-line URI into its host-and-optional-port
// portion and its path. An absolute-form URI ("http://host/path") has
// everything up to and including "://" stripped first; a relative-form
// URI ("host/path" or "/path") is used as-is. The first "/" found marks
// the path boundary; if none is found the path is empty, guarding
// against writing through an unset pointer the way the reference C
// implementation's unguarded truncation could.
func splitURI(uri string) (rawHost, path string) {
	hostAndPath := uri
	if idx := strings.Index(uri, "://"); idx >= 0 {
		hostAndPath = uri[idx+3:]
	}

	if idx := strings.IndexByte(hostAndPath, '/'); idx >= 0 {
		return hostAndPath[:idx], hostAndPath[idx:]
	}
	return hostAndPath, ""
}

// splitHostPort splits "hostname[:port]" into its parts, defaulting to
// port 80 when no port is given, and rejecting an explicit port of 0.
func splitHostPort(raw string) (hostname string, port int, err error) {
	if raw == "" {
		return "", 0, nil
	}

	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return raw, 80, nil
	}

	hostname = raw[:idx]
	portStr := raw[idx+1:]
	p, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadPort, portStr)
	}
	if p == 0 {
		return "", 0, fmt.Errorf("%w: explicit port 0", ErrBadPort)
	}
	return hostname, p, nil
}

// containsHostPrefix reports whether line contains "Host: " using a
// case-insensitive match on the header name, as opposed to the other
// discarded headers which match case-sensitively per spec.md §4.4.
func containsHostPrefix(line string) bool {
	return strings.Contains(strings.ToLower(line), "host: ")
}

// trimHostPrefix strips the leading "Host: "-shaped prefix (whatever
// case it was sent in) from line, leaving the header value untouched.
func trimHostPrefix(line string) string {
	idx := strings.Index(strings.ToLower(line), "host: ")
	if idx < 0 {
		return line
	}
	return line[idx+len(hostPrefix):]
}

func isDiscarded(line string) bool {
	for _, prefix := range discardPrefixes {
		if strings.Contains(line, prefix) {
			return true
		}
	}
	return false
}
