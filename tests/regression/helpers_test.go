package regression_test

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// stickscan listens here unless STICKSCAN_TEST_URL says otherwise.
const defaultBaseURL = "http://127.0.0.1:8484"

// apiClient talks to a running stickscan service.
type apiClient struct {
	base string
	http *http.Client
}

// dial returns a client for the service, or skips the test when nothing
// answers /api/status.
func dial(t *testing.T) *apiClient {
	t.Helper()
	base := strings.TrimRight(os.Getenv("STICKSCAN_TEST_URL"), "/")
	if base == "" {
		base = defaultBaseURL
	}
	c := &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	resp, err := c.http.Get(base + "/api/status")
	if err != nil {
		t.Skipf("stickscan not running at %s: %v", base, err)
	}
	resp.Body.Close()
	return c
}

// call sends method to path with an optional JSON body. The caller owns
// the response body.
func (c *apiClient) call(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// expect checks the status code and decodes the JSON body into out, if
// out is non-nil. The body is always closed.
func expect(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close()

	if resp.StatusCode != status {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, raw)
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		t.Fatalf("Content-Type %q is not JSON", resp.Header.Get("Content-Type"))
	}
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", resp.Request.URL.Path, err)
	}
}

// expectError checks the status code and the error envelope's code.
func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	expect(t, resp, status, &body)
	if body.Error.Code != code {
		t.Fatalf("error code %q, want %q", body.Error.Code, code)
	}
}
