package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "pbpwatch/pkg/logx"
)

const (
	defaultGistAPI  = "https://api.github.com"
	defaultGistFile = "pbp_state.json"
)

// gistStore keeps the document as one file of a GitHub gist. The version is
// the gist's latest revision sha.
//
// The GitHub API has no conditional PATCH, so Save re-reads the revision and
// compares it right before writing. That narrows the race to the gap between
// the two requests; it does not close it. Prefer sqlite, postgres or redis
// when runs overlap often.
type gistStore struct {
	api      string
	id       string
	token    string
	filename string
	http     *http.Client
	log      logx.Logger
}

func openGist(cfg Config, log logx.Logger) (Store, error) {
	g := cfg.Gist
	if strings.TrimSpace(g.ID) == "" || strings.TrimSpace(g.Token) == "" {
		return nil, errors.New("gist driver needs storage.gist.id and storage.gist.token (or GIST_ID / GIST_TOKEN)")
	}
	api := strings.TrimRight(strings.TrimSpace(g.APIURL), "/")
	if api == "" {
		api = defaultGistAPI
	}
	name := strings.TrimSpace(g.Filename)
	if name == "" {
		name = defaultGistFile
	}
	return &gistStore{
		api:      api,
		id:       strings.TrimSpace(g.ID),
		token:    strings.TrimSpace(g.Token),
		filename: name,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log.With(logx.String("driver", DriverGist), logx.String("file", name)),
	}, nil
}

type gistResponse struct {
	Files map[string]struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
		RawURL    string `json:"raw_url"`
	} `json:"files"`
	History []struct {
		Version string `json:"version"`
	} `json:"history"`
}

func (s *gistStore) Load(ctx context.Context) (State, Version, error) {
	g, err := s.fetch(ctx)
	if err != nil {
		return State{}, NoVersion, err
	}
	ver := gistVersion(g)
	f, ok := g.Files[s.filename]
	if !ok {
		s.log.Info("gist has no state file yet; starting empty")
		return Empty(), ver, nil
	}
	content := f.Content
	if f.Truncated && f.RawURL != "" {
		raw, err := s.get(ctx, f.RawURL)
		if err != nil {
			return State{}, NoVersion, err
		}
		content = string(raw)
	}
	return decodeOrEmpty([]byte(content), s.log), ver, nil
}

func (s *gistStore) Save(ctx context.Context, st State, expected Version) error {
	body, err := Encode(st)
	if err != nil {
		return err
	}
	g, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	if gistVersion(g) != expected {
		return ErrConflict
	}

	payload, err := json.Marshal(map[string]any{
		"files": map[string]any{s.filename: map[string]string{"content": string(body)}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.api+"/gists/"+s.id, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = s.do(req)
	return err
}

func (s *gistStore) fetch(ctx context.Context) (gistResponse, error) {
	raw, err := s.get(ctx, s.api+"/gists/"+s.id)
	if err != nil {
		return gistResponse{}, err
	}
	var g gistResponse
	if err := json.Unmarshal(raw, &g); err != nil {
		return gistResponse{}, fmt.Errorf("gist response: %w", err)
	}
	return g, nil
}

func (s *gistStore) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

func (s *gistStore) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("gist %s %s: http %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncateBody(b))
	}
	return b, nil
}

func gistVersion(g gistResponse) Version {
	if len(g.History) == 0 {
		return NoVersion
	}
	return Version(g.History[0].Version)
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func (s *gistStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
