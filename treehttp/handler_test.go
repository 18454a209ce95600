package treehttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awaittree "github.com/risingwavelabs/await-tree"
)

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// startTask registers and starts a task that stays pending until the
// returned release function is called.
func startTask(t *testing.T, reg *awaittree.Registry, key string) (release func()) {
	t.Helper()

	started := make(chan struct{})
	blocker := make(chan struct{})
	done := reg.Spawn(context.Background(), key, awaittree.NewSpan(key),
		func(ctx context.Context) error {
			return awaittree.Await(ctx, awaittree.NewSpan("working").Verbose(),
				func(ctx context.Context) error {
					close(started)
					awaittree.Suspend(ctx, func() { <-blocker })
					return nil
				})
		})
	<-started

	return func() {
		close(blocker)
		<-done
	}
}

func TestDumpAllText(t *testing.T) {
	reg := awaittree.NewRegistry(awaittree.Config{})
	release := startTask(t, reg, "alpha")
	defer release()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readAll(t, resp)
	assert.Contains(t, body, ">> Task alpha")
	assert.Contains(t, body, "alpha [")
	assert.NotContains(t, body, "working", "verbose span must be hidden by default")
}

func TestDumpAllVerbose(t *testing.T) {
	reg := awaittree.NewRegistry(awaittree.Config{})
	release := startTask(t, reg, "alpha")
	defer release()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?verbose=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, readAll(t, resp), "working")
}

func TestDumpOne(t *testing.T) {
	reg := awaittree.NewRegistry(awaittree.Config{})
	releaseA := startTask(t, reg, "alpha")
	defer releaseA()
	releaseB := startTask(t, reg, "beta")
	defer releaseB()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/beta")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readAll(t, resp)
	assert.Contains(t, body, "beta [")
	assert.NotContains(t, body, "alpha")
}

func TestDumpOneMiss(t *testing.T) {
	reg := awaittree.NewRegistry(awaittree.Config{})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDumpJSON(t *testing.T) {
	reg := awaittree.NewRegistry(awaittree.Config{})
	release := startTask(t, reg, "alpha")
	defer release()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?format=json")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var dumps []struct {
		Key  string             `json:"key"`
		Tree awaittree.Snapshot `json:"tree"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dumps))
	require.Len(t, dumps, 1)
	assert.Equal(t, "alpha", dumps[0].Key)
	assert.Equal(t, "alpha", dumps[0].Tree.Tree.Name)
}
