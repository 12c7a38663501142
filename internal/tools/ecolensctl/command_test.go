package ecolensctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	signedIn := func(r *http.Request) bool {
		c, err := r.Cookie("access_token")
		return err == nil && c.Value == "tok"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Please verify your email","reason":"pending_verification"}`))
	})
	mux.HandleFunc("/api/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OTP   string  `json:"otp"`
			Email *string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.OTP != "123456" || body.Email == nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Incorrect OTP","reason":"invalid"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "tok", Path: "/"})
		_, _ = w.Write([]byte(`{"message":"Email verified","user":{"id":"u1","email":"` + *body.Email + `"}}`))
	})
	mux.HandleFunc("/api/user/me", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			_, _ = w.Write([]byte(`null`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Path: "/", MaxAge: -1})
		_, _ = w.Write([]byte(`{"message":"Logged out"}`))
	})
	mux.HandleFunc("/api/predict", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
			return
		}
		var body struct {
			DataURL string `json:"dataUrl"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !strings.HasPrefix(body.DataURL, "data:image/png;base64,") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"predictions":[{"label":"plastic","prob":0.9}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// --- tests ---

func TestNewRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "ecolensctl", cmd.Use)
	for _, name := range []string{"register", "login", "verify", "me", "logout", "predict"} {
		c, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		require.NotNil(t, c, name)
	}
	predict, _, err := cmd.Find([]string{"predict"})
	require.NoError(t, err)
	assert.NotNil(t, predict.Flags().Lookup("image"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("base-url"))
}

func TestLoginPromptsForCodeAndPersistsSession(t *testing.T) {
	srv := newFakeAPI(t)
	session := filepath.Join(t.TempDir(), "session.json")
	common := []string{"--base-url", srv.URL, "--session-file", session}

	out, err := execute(t, "123456\n", append(common, "login", "--email", "a@b.com", "--password", "pw")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Enter the code sent to a@b.com")
	assert.Contains(t, out, `"id": "u1"`)
	_, err = os.Stat(session)
	require.NoError(t, err)

	out, err = execute(t, "", append(common, "me")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "u1"`)

	out, err = execute(t, "", append(common, "logout")...)
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")
	_, err = os.Stat(session)
	assert.True(t, os.IsNotExist(err))

	out, err = execute(t, "", append(common, "me")...)
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
}

func TestLoginWrongCode(t *testing.T) {
	srv := newFakeAPI(t)
	session := filepath.Join(t.TempDir(), "session.json")

	_, err := execute(t, "000000\n", "--base-url", srv.URL, "--session-file", session,
		"login", "--email", "a@b.com", "--password", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect OTP")
	assert.Contains(t, err.Error(), "(status 401, invalid)")
}

func TestLoginNoCodeEntered(t *testing.T) {
	srv := newFakeAPI(t)
	_, err := execute(t, "", "--base-url", srv.URL, "--session-file", filepath.Join(t.TempDir(), "s.json"),
		"login", "--email", "a@b.com", "--password", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no code entered")
}

func TestPredict(t *testing.T) {
	srv := newFakeAPI(t)
	dir := t.TempDir()
	session := filepath.Join(dir, "session.json")
	image := filepath.Join(dir, "bottle.png")
	require.NoError(t, os.WriteFile(image, pngHeader, 0o600))
	common := []string{"--base-url", srv.URL, "--session-file", session}

	_, err := execute(t, "", append(common, "predict", "--image", image)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	_, err = execute(t, "", append(common, "verify", "--otp", "123456", "--email", "a@b.com")...)
	require.NoError(t, err)

	out, err := execute(t, "", append(common, "predict", "--image", image)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "plastic"`)
}

func TestEncodeDataURL(t *testing.T) {
	got, err := encodeDataURL(pngHeader)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))

	_, err = encodeDataURL([]byte("just some text"))
	assert.ErrorContains(t, err, "not an image")

	_, err = encodeDataURL(nil)
	assert.ErrorContains(t, err, "empty")
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := execute(t, "", "--base-url", "not a url", "--session-file", filepath.Join(t.TempDir(), "s.json"), "me")
	assert.ErrorContains(t, err, "invalid --base-url")
}

func TestOpenJar_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := execute(t, "", "--base-url", "http://localhost:1", "--session-file", path, "me")
	assert.ErrorContains(t, err, "parse session file")
}
