// Package httpserve provides the default brd.Handler: a minimal HTTP/1.0
// request handler that serves static files and CGI scripts from a document
// root, writing the Stat-* headers every response carries.
package httpserve

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nahelawi/sysresource/internal/dispatch"
	"github.com/nahelawi/sysresource/internal/logging"
)

// Handler serves requests out of Root, the document root directory. Paths
// containing ".." fall back to home.html, mirroring the original's
// "don't trust client-supplied traversal" behavior.
type Handler struct {
	Root   string
	Logger *logging.Logger
}

// NewHandler builds a Handler rooted at root.
func NewHandler(root string, logger *logging.Logger) *Handler {
	return &Handler{Root: root, Logger: logger}
}

func (h *Handler) log() *logging.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return logging.Default()
}

// Handle implements dispatch.Handler. It reads one HTTP/1.0 request line,
// discards headers, resolves the target file, and serves it statically or
// via CGI, writing the Stat-* trailer headers on every response.
func (h *Handler) Handle(conn net.Conn, stats dispatch.Stats) dispatch.ResultCode {
	r := bufio.NewReader(conn)

	requestLine, err := r.ReadString('\n')
	if err != nil {
		h.writeError(conn, "", "400", "Bad Request", "could not read request line", stats)
		return dispatch.ResultNotImplemented
	}
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		h.writeError(conn, requestLine, "400", "Bad Request", "malformed request line", stats)
		return dispatch.ResultNotImplemented
	}
	method, uri := fields[0], fields[1]

	if !strings.EqualFold(method, "GET") {
		h.writeError(conn, method, "501", "Not Implemented", "server does not implement this method", stats)
		return dispatch.ResultNotImplemented
	}

	if err := discardHeaders(r); err != nil {
		h.writeError(conn, uri, "400", "Bad Request", "could not read headers", stats)
		return dispatch.ResultNotImplemented
	}

	isStatic, filename, cgiArgs := h.parseURI(uri)

	info, err := os.Stat(filename)
	if err != nil {
		h.writeError(conn, filename, "404", "Not Found", "server could not find this file", stats)
		return dispatch.ResultNotFound
	}

	if isStatic {
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o400 == 0 {
			h.writeError(conn, filename, "403", "Forbidden", "server could not read this file", stats)
			return dispatch.ResultForbidden
		}
		h.serveStatic(conn, filename, info.Size(), stats)
		return dispatch.ResultStatic
	}

	if !info.Mode().IsRegular() || info.Mode().Perm()&0o100 == 0 {
		h.writeError(conn, filename, "403", "Forbidden", "server could not run this CGI program", stats)
		return dispatch.ResultForbidden
	}
	h.serveDynamic(conn, filename, cgiArgs, stats)
	return dispatch.ResultDynamic
}

// discardHeaders reads and throws away request headers up to the blank
// line terminating them, matching requestReadhdrs.
func discardHeaders(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}

// parseURI mirrors requestParseURI: ".." anywhere in the URI falls back to
// home.html; a URI containing "cgi" anywhere means dynamic content with the query
// string split off as cgiargs; everything else is static, with a
// trailing slash implying home.html.
func (h *Handler) parseURI(uri string) (isStatic bool, filename, cgiArgs string) {
	if strings.Contains(uri, "..") {
		return true, filepath.Join(h.Root, "home.html"), ""
	}

	if !strings.Contains(uri, "cgi") {
		name := strings.TrimPrefix(uri, "/")
		if name == "" || strings.HasSuffix(uri, "/") {
			name = strings.TrimSuffix(name, "/") + "/home.html"
		}
		return true, filepath.Join(h.Root, name), ""
	}

	path, args := uri, ""
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		path, args = uri[:idx], uri[idx+1:]
	}
	return false, filepath.Join(h.Root, strings.TrimPrefix(path, "/")), args
}

func bufStats(stats dispatch.Stats, isStatic int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stat-Req-Arrival:: %d.%06d\r\n", stats.ArrivalTime.Unix(), stats.ArrivalTime.Nanosecond()/1000)
	fmt.Fprintf(&b, "Stat-Req-Dispatch:: %d.%06d\r\n", int64(stats.DispatchInterval.Seconds()), stats.DispatchInterval.Microseconds()%1_000_000)
	fmt.Fprintf(&b, "Stat-Thread-Id:: %d\r\n", stats.ThreadID)
	fmt.Fprintf(&b, "Stat-Thread-Count:: %d\r\n", stats.RequestsCount+1)
	static := stats.StaticRequestsCount
	dynamic := stats.DynamicRequestsCount
	if isStatic == 1 {
		static++
	} else if isStatic == 0 {
		dynamic++
	}
	fmt.Fprintf(&b, "Stat-Thread-Static:: %d\r\n", static)
	fmt.Fprintf(&b, "Stat-Thread-Dynamic:: %d\r\n", dynamic)
	return b.String()
}

func (h *Handler) writeError(conn net.Conn, cause, code, shortMsg, longMsg string, stats dispatch.Stats) {
	body := fmt.Sprintf(
		"<html><title>brd Error</title><body bgcolor=\"ffffff\">\r\n%s: %s\r\n<p>%s: %s\r\n<hr>brd\r\n",
		code, shortMsg, longMsg, cause,
	)

	fmt.Fprintf(conn, "HTTP/1.0 %s %s\r\n", code, shortMsg)
	fmt.Fprintf(conn, "Content-Type: text/html\r\n")
	fmt.Fprintf(conn, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(conn, "%s\r\n", bufStats(stats, -1))
	fmt.Fprint(conn, body)
}

func (h *Handler) serveStatic(conn net.Conn, filename string, size int64, stats dispatch.Stats) {
	f, err := os.Open(filename)
	if err != nil {
		h.log().Errorf("static open %s: %v", filename, err)
		return
	}
	defer f.Close()

	fmt.Fprintf(conn, "HTTP/1.0 200 OK\r\n")
	fmt.Fprintf(conn, "Content-Length: %d\r\n", size)
	fmt.Fprintf(conn, "Content-Type: %s\r\n", filetypeOf(filename))
	fmt.Fprintf(conn, "%s\r\n", bufStats(stats, 1))

	if _, err := io.Copy(conn, f); err != nil {
		h.log().Errorf("static write %s: %v", filename, err)
	}
}

// filetypeOf mirrors requestGetFiletype's substring-based content-type
// detection, defaulting to text/plain.
func filetypeOf(filename string) string {
	switch {
	case strings.Contains(filename, ".html"):
		return "text/html"
	case strings.Contains(filename, ".gif"):
		return "image/gif"
	case strings.Contains(filename, ".jpg"):
		return "image/jpeg"
	default:
		return "text/plain"
	}
}

func (h *Handler) serveDynamic(conn net.Conn, filename, cgiArgs string, stats dispatch.Stats) {
	fmt.Fprintf(conn, "HTTP/1.0 200 OK\r\n")
	fmt.Fprintf(conn, "Server: brd\r\n")
	fmt.Fprintf(conn, "%s", bufStats(stats, 0))

	cmd := exec.Command(filename)
	cmd.Env = append(os.Environ(), "QUERY_STRING="+cgiArgs)
	cmd.Stdout = conn
	cmd.Stderr = conn
	if err := cmd.Run(); err != nil {
		h.log().Errorf("cgi exec %s: %v", filename, err)
	}
}

