// Package config loads per-user repository settings from a YAML file and
// exposes them as a workflow.ConfigProvider. Each user maps to a list of
// repositories with a clone URL, base branch, and hosting platform; the
// platform is detected from the URL when not stated.
package config
