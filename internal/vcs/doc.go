// Package vcs reads branch trees out of git repositories with go-git.
//
// Remote repositories are cloned into a workspace directory and fetched on
// later runs; local repositories are opened in place and never modified.
// Files are identified by their blob hash, which doubles as the content
// identifier used for change detection.
package vcs
