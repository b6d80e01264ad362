// Package collector keeps the side-channel data that code under test attaches
// to a running test: log lines, metadata and artifact files. Adapters tag the
// test with a rid and the client merges the collected data into the result
// reported under that rid.
package collector

import (
	"strings"
	"sync"
)

// Data is what has been collected for one rid.
type Data struct {
	Logs      []string
	Meta      map[string]any
	Artifacts []string
}

type Collector struct {
	mu   sync.Mutex
	data map[string]*Data
}

func New() *Collector {
	return &Collector{data: make(map[string]*Data)}
}

func (c *Collector) entry(rid string) *Data {
	d, ok := c.data[rid]
	if !ok {
		d = &Data{}
		c.data[rid] = d
	}
	return d
}

// Log appends a log line to rid.
func (c *Collector) Log(rid string, line string) {
	if rid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.entry(rid)
	d.Logs = append(d.Logs, line)
}

// SetMeta records a key-value pair for rid, overwriting an earlier value.
func (c *Collector) SetMeta(rid, key string, value any) {
	if rid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.entry(rid)
	if d.Meta == nil {
		d.Meta = make(map[string]any)
	}
	d.Meta[key] = value
}

// Artifact registers a local file to upload with rid.
func (c *Collector) Artifact(rid, path string) {
	if rid == "" || path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.entry(rid)
	d.Artifacts = append(d.Artifacts, path)
}

// Take returns and forgets the data of rid.
func (c *Collector) Take(rid string) (Data, bool) {
	if rid == "" {
		return Data{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[rid]
	if !ok {
		return Data{}, false
	}
	delete(c.data, rid)
	return *d, true
}

// Text joins the collected log lines.
func (d Data) Text() string {
	return strings.Join(d.Logs, "\n")
}
