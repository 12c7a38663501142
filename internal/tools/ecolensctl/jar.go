package ecolensctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
)

// fileJar is a cookie jar whose cookies for one origin survive between
// command invocations.
type fileJar struct {
	*cookiejar.Jar
	path string
	base *url.URL
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func openJar(path string, base *url.URL) (*fileJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	fj := &fileJar{Jar: jar, path: path, base: base}
	if path == "" {
		return fj, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fj, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var stored []storedCookie
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", path, err)
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	jar.SetCookies(base, cookies)
	return fj, nil
}

// save writes the cookies the jar would send to the base URL. An empty jar
// removes the file.
func (j *fileJar) save() error {
	if j.path == "" {
		return nil
	}
	cookies := j.Cookies(j.base)
	if len(cookies) == 0 {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value})
	}
	raw, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(j.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ecolensctl-session.json"
	}
	return filepath.Join(dir, "ecolensctl", "session.json")
}
