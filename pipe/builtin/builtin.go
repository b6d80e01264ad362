// Package builtin assembles the registry of pipes shipped with the reporter.
package builtin

import (
	"github.com/testomatio/reporter/pipe"
	"github.com/testomatio/reporter/pipe/csv"
	"github.com/testomatio/reporter/pipe/debug"
	"github.com/testomatio/reporter/pipe/html"
	"github.com/testomatio/reporter/pipe/testomatio"
	"github.com/testomatio/reporter/pipe/vcs"
)

// Registry returns a registry with the built-in pipes in delivery order.
// Each of them is also available as a plugin for the [[pipes]] section, so a
// second CSV or HTML report can be configured with its own options.
func Registry() *pipe.Registry {
	r := pipe.NewRegistry()
	builtins := []struct {
		name    string
		factory pipe.Factory
	}{
		{testomatio.Name, testomatio.Factory},
		{vcs.GitHub, vcs.NewGitHub},
		{vcs.GitLab, vcs.NewGitLab},
		{csv.Name, csv.Factory},
		{html.Name, html.Factory},
		{vcs.Bitbucket, vcs.NewBitbucket},
		{debug.Name, debug.Factory},
	}
	for _, b := range builtins {
		r.RegisterBuiltin(b.name, b.factory)
	}
	r.RegisterPlugin(csv.Name, csv.Factory)
	r.RegisterPlugin(html.Name, html.Factory)
	return r
}
