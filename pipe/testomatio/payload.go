package testomatio

import (
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

// Wire types of the reporting API.

type runRequest struct {
	APIKey           string `json:"api_key"`
	Title            string `json:"title,omitempty"`
	Env              string `json:"env,omitempty"`
	GroupTitle       string `json:"group_title,omitempty"`
	Parallel         bool   `json:"parallel,omitempty"`
	CIBuildURL       string `json:"ci_build_url,omitempty"`
	Label            string `json:"label,omitempty"`
	SharedRun        bool   `json:"shared_run,omitempty"`
	SharedRunTimeout int    `json:"shared_run_timeout,omitempty"`
	JiraID           string `json:"jira_id,omitempty"`
	AccessEvent      string `json:"access_event,omitempty"`
}

type artifactsConfig struct {
	AccessKeyID     string `json:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"SECRET_ACCESS_KEY"`
	SessionToken    string `json:"SESSION_TOKEN"`
	Region          string `json:"REGION"`
	Bucket          string `json:"BUCKET"`
	Endpoint        string `json:"ENDPOINT"`
	ForcePathStyle  bool   `json:"FORCE_PATH_STYLE"`
	Presign         bool   `json:"presign"`
}

func (a *artifactsConfig) credentials() *pipe.S3Credentials {
	if a == nil || a.Bucket == "" {
		return nil
	}
	return &pipe.S3Credentials{
		Bucket:          a.Bucket,
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		SessionToken:    a.SessionToken,
		ForcePathStyle:  a.ForcePathStyle,
		Private:         a.Presign,
	}
}

type runResponse struct {
	UID       string           `json:"uid"`
	URL       string           `json:"url"`
	PublicURL string           `json:"public_url"`
	Artifacts *artifactsConfig `json:"artifacts"`
}

type finishRequest struct {
	APIKey      string `json:"api_key"`
	StatusEvent string `json:"status_event"`
}

type testPayload struct {
	APIKey     string         `json:"api_key,omitempty"`
	Rid        string         `json:"rid,omitempty"`
	Status     string         `json:"status,omitempty"`
	Title      string         `json:"title,omitempty"`
	SuiteTitle string         `json:"suite_title,omitempty"`
	SuiteID    string         `json:"suite_id,omitempty"`
	TestID     string         `json:"test_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Stack      string         `json:"stack,omitempty"`
	RunTime    float64        `json:"run_time,omitempty"`
	Steps      []model.Step   `json:"steps,omitempty"`
	File       string         `json:"file,omitempty"`
	Code       string         `json:"code,omitempty"`
	Example    map[string]any `json:"example,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	Create     bool           `json:"create,omitempty"`
}

type batchRequest struct {
	APIKey     string        `json:"api_key"`
	Tests      []testPayload `json:"tests"`
	BatchIndex int           `json:"batch_index"`
}

type grepResponse struct {
	Tests []string `json:"tests"`
}

func newTestPayload(t model.TestData, create bool) testPayload {
	message := t.Message
	if message == "" && t.Error != nil {
		message = t.Error.Message
	}
	return testPayload{
		Rid:        t.Rid,
		Status:     string(t.Status),
		Title:      t.Title,
		SuiteTitle: t.SuiteTitle,
		SuiteID:    t.SuiteID,
		TestID:     t.TestID,
		Message:    message,
		Stack:      t.Stack,
		RunTime:    t.Time,
		Steps:      t.Steps,
		File:       t.File,
		Code:       t.Code,
		Example:    t.Example,
		Meta:       t.Meta,
		Artifacts:  t.Artifacts,
		Create:     create || t.Create,
	}
}
