package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// ProjectFile is the optional project-level configuration file.
	ProjectFile = "testomatio.toml"

	DefaultURL                = "https://app.testomat.io"
	DefaultMaxRequestFailures = 10
	DefaultBatchInterval      = 5 * time.Second
	DefaultMaxEmptyFlushes    = 10
	DefaultRequestTimeout     = 30 * time.Second
	DefaultRetries            = 3
	DefaultRetryDelay         = 5 * time.Second
)

// PipeConfig declares an extra pipe provided by a registered plugin.
type PipeConfig struct {
	Name    string            `toml:"name"`
	Options map[string]string `toml:"options"`
}

// S3Config is the operator supplied artifact storage. Credentials returned by
// the reporting service on run creation take precedence.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
	ForcePathStyle  bool   `toml:"force_path_style"`
}

// Config holds every setting of the reporter.
type Config struct {
	APIKey string `toml:"api_key"`
	URL    string `toml:"url"`
	// Existing run to resume
	RunID            string `toml:"run_id"`
	Title            string `toml:"title"`
	Env              string `toml:"env"`
	Label            string `toml:"label"`
	GroupTitle       string `toml:"group_title"`
	SharedRun        bool   `toml:"shared_run"`
	SharedRunTimeout int    `toml:"shared_run_timeout"`
	JiraID           string `toml:"jira_id"`
	CIBuildURL       string `toml:"ci_build_url"`
	Publish          bool   `toml:"publish"`
	CreateTests      bool   `toml:"create_tests"`

	DisableBatch       bool          `toml:"disable_batch_upload"`
	BatchInterval      time.Duration `toml:"batch_interval"`
	MaxEmptyFlushes    int           `toml:"max_empty_flushes"`
	MaxRequestFailures int           `toml:"max_request_failures"`
	RequestTimeout     time.Duration `toml:"request_timeout"`
	Retries            int           `toml:"retries"`
	RetryDelay         time.Duration `toml:"retry_delay"`
	// Zero means unlimited
	RequestsPerSecond float64 `toml:"requests_per_second"`

	ExcludeSkipped   bool     `toml:"exclude_skipped"`
	ExcludeFilesGlob []string `toml:"exclude_files_glob"`
	// Leave the run open for another process to finish
	Proceed bool `toml:"proceed"`
	Debug   bool `toml:"debug"`

	DisableArtifacts bool     `toml:"disable_artifacts"`
	S3               S3Config `toml:"s3"`

	CSVFile  string `toml:"csv_file"`
	HTMLFile string `toml:"html_file"`

	GitHubToken    string `toml:"-"`
	GitHubRepo     string `toml:"-"`
	GitHubRef      string `toml:"-"`
	GitHubAPIURL   string `toml:"-"`
	GitLabToken    string `toml:"-"`
	GitLabProject  string `toml:"-"`
	GitLabMR       string `toml:"-"`
	GitLabAPIURL   string `toml:"-"`
	BitbucketToken string `toml:"-"`
	BitbucketRepo  string `toml:"-"`
	BitbucketPR    string `toml:"-"`

	Pipes []PipeConfig `toml:"pipes"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		URL:                DefaultURL,
		BatchInterval:      DefaultBatchInterval,
		MaxEmptyFlushes:    DefaultMaxEmptyFlushes,
		MaxRequestFailures: DefaultMaxRequestFailures,
		RequestTimeout:     DefaultRequestTimeout,
		Retries:            DefaultRetries,
		RetryDelay:         DefaultRetryDelay,
		GitHubAPIURL:       "https://api.github.com",
		GitLabAPIURL:       "https://gitlab.com/api/v4",
	}
}

// Load assembles the configuration for dir: defaults, then dir/.env, then
// dir/testomatio.toml, then the process environment.
func Load(dir string) (*Config, error) {
	cfg := Default()

	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.loadProjectFile(filepath.Join(dir, ProjectFile)); err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadEnv builds a Config from defaults and the process environment only.
func LoadEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv(os.Getenv)
	return cfg
}

func (c *Config) loadProjectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields with the environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	flag := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			*dst = parseBool(v)
		}
	}
	num := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str(&c.APIKey, "TESTOMATIO")
	str(&c.URL, "TESTOMATIO_URL")
	str(&c.RunID, "TESTOMATIO_RUN")
	str(&c.Title, "TESTOMATIO_TITLE")
	str(&c.Env, "TESTOMATIO_ENV")
	str(&c.Label, "TESTOMATIO_LABEL")
	str(&c.GroupTitle, "TESTOMATIO_RUNGROUP_TITLE")
	flag(&c.SharedRun, "TESTOMATIO_SHARED_RUN")
	num(&c.SharedRunTimeout, "TESTOMATIO_SHARED_RUN_TIMEOUT")
	str(&c.JiraID, "TESTOMATIO_JIRA_ID")
	str(&c.CIBuildURL, "BUILD_URL", "CI_JOB_URL")
	if c.CIBuildURL == "" && getenv("GITHUB_RUN_ID") != "" {
		c.CIBuildURL = fmt.Sprintf("%s/%s/actions/runs/%s",
			strings.TrimSuffix(firstNonEmpty(getenv("GITHUB_SERVER_URL"), "https://github.com"), "/"),
			getenv("GITHUB_REPOSITORY"), getenv("GITHUB_RUN_ID"))
	}
	flag(&c.Publish, "TESTOMATIO_PUBLISH")
	flag(&c.CreateTests, "TESTOMATIO_CREATE")

	flag(&c.DisableBatch, "TESTOMATIO_DISABLE_BATCH_UPLOAD")
	num(&c.MaxRequestFailures, "TESTOMATIO_MAX_REQUEST_FAILURES")
	if v := getenv("TESTOMATIO_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.RequestsPerSecond = f
		}
	}

	flag(&c.ExcludeSkipped, "TESTOMATIO_EXCLUDE_SKIPPED")
	if v := getenv("TESTOMATIO_EXCLUDE_FILES_FROM_REPORT_GLOB_PATTERN"); v != "" {
		c.ExcludeFilesGlob = SplitPatterns(v)
	}
	flag(&c.Proceed, "TESTOMATIO_PROCEED")
	flag(&c.Debug, "TESTOMATIO_DEBUG")
	if !c.Debug && getenv("DEBUG") != "" {
		c.Debug = true
	}

	flag(&c.DisableArtifacts, "TESTOMATIO_DISABLE_ARTIFACTS")
	str(&c.S3.Bucket, "S3_BUCKET")
	str(&c.S3.Region, "S3_REGION")
	str(&c.S3.Endpoint, "S3_ENDPOINT")
	str(&c.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	str(&c.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	str(&c.S3.SessionToken, "S3_SESSION_TOKEN")
	flag(&c.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	str(&c.CSVFile, "TESTOMATIO_CSV_FILENAME")
	if getenv("TESTOMATIO_HTML_REPORT_SAVE") != "" {
		c.HTMLFile = "testomatio-report.html"
	}
	str(&c.HTMLFile, "TESTOMATIO_HTML_FILENAME")

	str(&c.GitHubToken, "GH_PAT")
	str(&c.GitHubRepo, "GITHUB_REPOSITORY")
	str(&c.GitHubRef, "GITHUB_REF")
	str(&c.GitHubAPIURL, "GITHUB_API_URL")
	str(&c.GitLabToken, "GITLAB_PAT")
	str(&c.GitLabProject, "CI_PROJECT_ID")
	str(&c.GitLabMR, "CI_MERGE_REQUEST_IID")
	str(&c.GitLabAPIURL, "CI_API_V4_URL")
	str(&c.BitbucketToken, "BITBUCKET_ACCESS_TOKEN")
	str(&c.BitbucketRepo, "BITBUCKET_REPO_FULL_NAME")
	str(&c.BitbucketPR, "BITBUCKET_PR_ID")
}

// EnvSnapshot picks the reporter variables out of environ ("KEY=value" pairs)
// for the replay log.
func EnvSnapshot(environ []string) map[string]string {
	vars := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "TESTOMATIO") || strings.HasPrefix(k, "S3_") {
			vars[k] = v
		}
	}
	return vars
}

// SplitPatterns splits a ";" separated glob list.
func SplitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
