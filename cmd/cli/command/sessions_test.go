package command

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessionID(t *testing.T) {
	id, err := parseSessionID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := parseSessionID(bad)
		assert.Error(t, err, bad)
	}
}

func TestSessionsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions", r.URL.Path)
		w.Write([]byte(`{"sessions":[{"id":1,"address":"10.0.0.1:4000","connected_at":"2024-05-01T12:00:00Z"}],"count":1}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--api", srv.URL, "sessions", "list"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "10.0.0.1:4000")
}

func TestSessionsCommand_JoinsArguments(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		got = buf.String()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rootCmd.SetArgs([]string{"--api", srv.URL, "sessions", "command", "2", "ls", "-la"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.JSONEq(t, `{"content":"ls -la"}`, got)
}
