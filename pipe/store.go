package pipe

import "sync"

// S3Credentials are the artifact storage credentials of a run.
type S3Credentials struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
	ForcePathStyle  bool   `json:"forcePathStyle,omitempty"`
	// Uploaded artifacts are private and addressed by key rather than public URL
	Private bool `json:"private,omitempty"`
}

// Store is the per-run context shared by reference between every pipe built
// together and the artifact uploader. Only the reporting pipe writes the run
// identity and credentials; readers must tolerate zero values until the run
// has been created.
type Store struct {
	mu        sync.RWMutex
	runID     string
	runURL    string
	publicURL string
	s3        *S3Credentials
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) SetRun(id, url, publicURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = id
	if url != "" {
		s.runURL = url
	}
	if publicURL != "" {
		s.publicURL = publicURL
	}
}

func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

func (s *Store) RunURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runURL
}

func (s *Store) PublicURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicURL
}

func (s *Store) SetS3Credentials(creds *S3Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds == nil {
		s.s3 = nil
		return
	}
	c := *creds
	s.s3 = &c
}

// S3Credentials returns a copy of the installed credentials, or nil.
func (s *Store) S3Credentials() *S3Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.s3 == nil {
		return nil
	}
	c := *s.s3
	return &c
}
