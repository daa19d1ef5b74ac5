// Package scripting runs user Lua scripts that react to bridge events and
// drive the bridge through its own API.
package scripting

import "errors"

// ErrNotFound is returned for a script id with no file behind it.
var ErrNotFound = errors.New("script not found")

// Meta is the JSON header on the first line of a script file.
type Meta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single .lua file in the scripts directory.
type Script struct {
	ID       string `json:"id"` // filename stem
	Meta     Meta   `json:"meta"`
	Code     string `json:"code"`
	FilePath string `json:"-"`
}

// RunResult is the outcome of a one-shot run.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}
