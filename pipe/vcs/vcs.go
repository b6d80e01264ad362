// Package vcs implements the pipes that comment a run summary on a GitHub
// pull request, a GitLab merge request or a Bitbucket pull request.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/metrics"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const (
	GitHub    = "github"
	GitLab    = "gitlab"
	Bitbucket = "bitbucket"

	bitbucketAPIURL = "https://api.bitbucket.org/2.0"
	requestTimeout  = 30 * time.Second
)

// Pipe posts the summary comment at the end of the run.
type Pipe struct {
	pipe.Noop

	logger   zerolog.Logger
	name     string
	display  string
	endpoint string
	headers  map[string]string
	// wraps the markdown into the provider's request body
	body    func(markdown string) any
	store   *pipe.Store
	client  *http.Client
	results *pipe.Results
}

var _ pipe.Pipe = (*Pipe)(nil)

func newPipe(deps pipe.Deps, name, display, endpoint string, headers map[string]string, body func(string) any) *Pipe {
	store := deps.Store
	if store == nil {
		store = pipe.NewStore()
	}
	return &Pipe{
		logger:   deps.Logger.With().Str("pipe", name).Logger(),
		name:     name,
		display:  display,
		endpoint: endpoint,
		headers:  headers,
		body:     body,
		store:    store,
		client:   &http.Client{Timeout: requestTimeout},
		results:  pipe.NewResults(),
	}
}

func cfgOf(deps pipe.Deps) *config.Config {
	if deps.Config == nil {
		return config.Default()
	}
	return deps.Config
}

// NewGitHub comments on the pull request of GITHUB_REF.
func NewGitHub(deps pipe.Deps) (pipe.Pipe, error) {
	cfg := cfgOf(deps)
	pr := pullRequestNumber(cfg.GitHubRef)
	if cfg.GitHubToken == "" || cfg.GitHubRepo == "" || pr == "" {
		return pipe.Disabled{Name: "GitHub"}, nil
	}
	endpoint := fmt.Sprintf("%s/repos/%s/issues/%s/comments", strings.TrimSuffix(cfg.GitHubAPIURL, "/"), cfg.GitHubRepo, pr)
	return newPipe(deps, GitHub, "GitHub", endpoint, map[string]string{
		"Authorization": "Bearer " + cfg.GitHubToken,
		"Accept":        "application/vnd.github+json",
	}, markdownBody), nil
}

// NewGitLab comments on the merge request of CI_MERGE_REQUEST_IID.
func NewGitLab(deps pipe.Deps) (pipe.Pipe, error) {
	cfg := cfgOf(deps)
	if cfg.GitLabToken == "" || cfg.GitLabProject == "" || cfg.GitLabMR == "" {
		return pipe.Disabled{Name: "GitLab"}, nil
	}
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests/%s/notes",
		strings.TrimSuffix(cfg.GitLabAPIURL, "/"), url.PathEscape(cfg.GitLabProject), cfg.GitLabMR)
	return newPipe(deps, GitLab, "GitLab", endpoint, map[string]string{
		"PRIVATE-TOKEN": cfg.GitLabToken,
	}, markdownBody), nil
}

// NewBitbucket comments on the pull request of BITBUCKET_PR_ID.
func NewBitbucket(deps pipe.Deps) (pipe.Pipe, error) {
	cfg := cfgOf(deps)
	if cfg.BitbucketToken == "" || cfg.BitbucketRepo == "" || cfg.BitbucketPR == "" {
		return pipe.Disabled{Name: "Bitbucket"}, nil
	}
	apiURL := bitbucketAPIURL
	if v := deps.Options["api_url"]; v != "" {
		apiURL = strings.TrimSuffix(v, "/")
	}
	endpoint := fmt.Sprintf("%s/repositories/%s/pullrequests/%s/comments", apiURL, cfg.BitbucketRepo, cfg.BitbucketPR)
	return newPipe(deps, Bitbucket, "Bitbucket", endpoint, map[string]string{
		"Authorization": "Bearer " + cfg.BitbucketToken,
	}, func(md string) any {
		return map[string]any{"content": map[string]string{"raw": md}}
	}), nil
}

func markdownBody(md string) any {
	return map[string]string{"body": md}
}

// pullRequestNumber extracts 123 from refs/pull/123/merge.
func pullRequestNumber(ref string) string {
	parts := strings.Split(ref, "/")
	if len(parts) >= 3 && parts[0] == "refs" && parts[1] == "pull" && parts[2] != "" {
		return parts[2]
	}
	return ""
}

func (p *Pipe) IsEnabled() bool {
	return true
}

func (p *Pipe) String() string {
	return p.display
}

func (p *Pipe) AddTest(_ context.Context, test model.TestData) error {
	p.results.Add(test)
	return nil
}

func (p *Pipe) FinishRun(ctx context.Context, params model.FinishParams) error {
	runURL := p.store.PublicURL()
	if runURL == "" {
		runURL = p.store.RunURL()
	}
	md := Summary(params.Status, runURL, p.results)
	if err := p.post(ctx, p.body(md)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to post run summary")
		return nil
	}
	p.logger.Info().Msg("Run summary posted")
	return nil
}

func (p *Pipe) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode comment: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	res, err := p.client.Do(req)
	if err != nil {
		metrics.RecordRequest(p.name, http.MethodPost, 0)
		metrics.RecordRequestFailure(p.name)
		return err
	}
	defer res.Body.Close()
	metrics.RecordRequest(p.name, http.MethodPost, res.StatusCode)

	if res.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		metrics.RecordRequestFailure(p.name)
		return fmt.Errorf("comment rejected with %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
