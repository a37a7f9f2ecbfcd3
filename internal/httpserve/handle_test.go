package httpserve

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nahelawi/sysresource/internal/dispatch"
)

const docRoot = "../../examples/static-site"

func doRequest(t *testing.T, h *Handler, request string) (dispatch.ResultCode, string) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	stats := dispatch.Stats{
		ArrivalTime:          time.Unix(1_700_000_000, 500_000),
		DispatchInterval:     2500 * time.Microsecond,
		ThreadID:             3,
		RequestsCount:        10,
		StaticRequestsCount:  6,
		DynamicRequestsCount: 4,
	}

	resultCh := make(chan dispatch.ResultCode, 1)
	go func() {
		resultCh <- h.Handle(server, stats)
		server.Close()
	}()

	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}

	return <-resultCh, sb.String()
}

func TestHandleServesStaticHomePage(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "GET / HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultStatic, result)
	assert.Contains(t, resp, "HTTP/1.0 200 OK")
	assert.Contains(t, resp, "It works.")
	assert.Contains(t, resp, "Content-Type: text/html")
}

func TestHandleStatHeaders(t *testing.T) {
	h := NewHandler(docRoot, nil)
	_, resp := doRequest(t, h, "GET / HTTP/1.0\r\n\r\n")

	assert.Contains(t, resp, "Stat-Req-Arrival:: 1700000000.000500")
	assert.Contains(t, resp, "Stat-Thread-Id:: 3")
	assert.Contains(t, resp, "Stat-Thread-Count:: 11")
	// Static hit: +1 goes to the static counter, not dynamic.
	assert.Contains(t, resp, "Stat-Thread-Static:: 7")
	assert.Contains(t, resp, "Stat-Thread-Dynamic:: 4")
}

func TestHandle404(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "GET /no-such-file.html HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultNotFound, result)
	assert.Contains(t, resp, "404")
}

func TestHandle403OnUnreadableFile(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "GET /unreadable.html HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultForbidden, result)
	assert.Contains(t, resp, "403")
}

func TestHandle501OnNonGet(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "POST / HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultNotImplemented, result)
	assert.Contains(t, resp, "501")
	// Error responses omit the conditional +1 on both counters.
	assert.Contains(t, resp, "Stat-Thread-Static:: 6")
	assert.Contains(t, resp, "Stat-Thread-Dynamic:: 4")
}

func TestHandleDotDotFallsBackToHome(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "GET /../../../etc/passwd HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultStatic, result)
	assert.Contains(t, resp, "It works.")
}

func TestHandleCGI(t *testing.T) {
	h := NewHandler(docRoot, nil)
	result, resp := doRequest(t, h, "GET /cgi/echo-args?hello=world HTTP/1.0\r\n\r\n")

	assert.Equal(t, dispatch.ResultDynamic, result)
	assert.Contains(t, resp, "args=hello=world")
}

func TestDiscardHeaders(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Host: x\r\nAccept: */*\r\n\r\nbody"))
	require.NoError(t, discardHeaders(r))
	rest, _ := r.ReadString(0)
	assert.Equal(t, "body", rest)
}
