package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/facade"
	"meshd/internal/httpapi"
	"meshd/internal/parallel"
)

const tetBody = `{"kind":"Mesh33",
 "coords":{"dtype":"f64","shape":[4,3],"data":[0,0,0, 1,0,0, 0,1,0, 0,0,1]},
 "elems":{"dtype":"u32","shape":[1,4],"data":[0,1,2,3]},
 "etags":{"dtype":"i16","shape":[1],"data":[1]},
 "faces":{"dtype":"u32","shape":[4,3],"data":[1,2,3, 0,3,2, 0,1,3, 0,2,1]},
 "ftags":{"dtype":"i16","shape":[4],"data":[1,2,3,4]}}`

// createTempMeshDir creates a directory holding empty files with the given
// names and returns its path.
func createTempMeshDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file %s: %v", p, err)
		}
	}
	return dir
}

func newServerForDir(t *testing.T, meshDir string) *httptest.Server {
	t.Helper()
	ctl := parallel.NewController(
		parallel.WithCPUCount(func() int { return 4 }),
		parallel.WithPinFunc(func(int) error { return nil }),
	)
	t.Cleanup(ctl.Close)
	f := facade.New(facade.Config{
		Controller: ctl,
		Engine:     engine.NewReference(poolFan{ctl}),
		Caps:       capability.New(nil),
	})
	api := httpapi.NewServer(f, meshDir)
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(api.Close)
	return srv
}

// poolFan runs the reference engine's loops on the worker pool.
type poolFan struct{ ctl *parallel.Controller }

func (p poolFan) ParallelFor(n int, fn func(lo, hi int)) { p.ctl.Pool().ParallelFor(n, fn) }

func httpDo(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodGet, url, nil)
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	if payload == nil {
		payload = []byte{}
	}
	return httpDo(t, http.MethodPost, url, payload)
}
