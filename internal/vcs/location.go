package vcs

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/repoctx-mcp/pkg/types"
)

// Location identifies a repository. ID is the normalized identity used as
// the repository key in the index: "host/owner/repo" for remotes and
// "file://<absolute path>" for local working copies.
type Location struct {
	ID        string
	CloneURL  string // empty for local repositories
	LocalPath string // set for local repositories
	Name      string // last path element of the identity
}

// IsLocal reports whether the repository is used in place rather than cloned.
func (l Location) IsLocal() bool {
	return l.LocalPath != ""
}

var scpLike = regexp.MustCompile(`^(?:([\w.+-]+)@)?([\w.-]+\.[\w.-]+|[\w-]+):(.+)$`)

// NormalizeLocation parses a repository location given as an https, ssh or
// scp-like URL, a "host/owner/repo" shorthand, or a local path.
func NormalizeLocation(raw string) (Location, error) {
	loc := strings.TrimSpace(raw)
	if loc == "" {
		return Location{}, types.NewInvalidInput("repository location is required")
	}

	switch {
	case strings.HasPrefix(loc, "file://"):
		return localLocation(strings.TrimPrefix(loc, "file://"), raw)
	case strings.Contains(loc, "://"):
		return urlLocation(loc, raw)
	case isLocalPath(loc):
		return localLocation(loc, raw)
	}

	if m := scpLike.FindStringSubmatch(loc); m != nil && !strings.HasPrefix(m[3], "//") {
		return remoteLocation(m[2], m[3], loc, raw)
	}

	// host/owner/repo shorthand
	host, rest, ok := strings.Cut(loc, "/")
	if ok && strings.Contains(host, ".") && rest != "" {
		u := "https://" + host + "/" + strings.TrimSuffix(strings.Trim(rest, "/"), ".git") + ".git"
		return remoteLocation(host, rest, u, raw)
	}

	return Location{}, types.NewInvalidInput("unrecognized repository location %q", raw)
}

func urlLocation(loc, raw string) (Location, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return Location{}, types.NewInvalidInput("invalid repository URL %q: %v", raw, err)
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git", "git+ssh":
	default:
		return Location{}, types.NewInvalidInput("unsupported repository URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Location{}, types.NewInvalidInput("repository URL %q has no host", raw)
	}
	return remoteLocation(u.Hostname(), u.Path, loc, raw)
}

func remoteLocation(host, repoPath, cloneURL, raw string) (Location, error) {
	host = strings.ToLower(host)
	cleaned := strings.Trim(path.Clean("/"+strings.Trim(repoPath, "/")), "/")
	cleaned = strings.TrimSuffix(cleaned, ".git")
	cleaned = strings.TrimSuffix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return Location{}, types.NewInvalidInput("repository location %q has no repository path", raw)
	}
	return Location{
		ID:       host + "/" + cleaned,
		CloneURL: cloneURL,
		Name:     path.Base(cleaned),
	}, nil
}

func localLocation(p, raw string) (Location, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Location{}, types.NewInvalidInput("cannot expand %q: %v", raw, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Location{}, types.NewInvalidInput("invalid repository path %q: %v", raw, err)
	}
	abs = filepath.Clean(abs)
	return Location{
		ID:        "file://" + filepath.ToSlash(abs),
		LocalPath: abs,
		Name:      filepath.Base(abs),
	}, nil
}

func isLocalPath(loc string) bool {
	if filepath.IsAbs(loc) || loc == "." || loc == ".." ||
		strings.HasPrefix(loc, "./") || strings.HasPrefix(loc, "../") || strings.HasPrefix(loc, "~") {
		return true
	}
	// relative paths that exist on disk win over the shorthand form
	if fi, err := os.Stat(loc); err == nil && fi.IsDir() {
		return true
	}
	return false
}

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// WorkspaceDir returns the directory a remote location is cloned into.
func WorkspaceDir(root string, loc Location) string {
	name := unsafeDirChars.ReplaceAllString(loc.ID, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "repo"
	}
	return filepath.Join(root, name)
}
