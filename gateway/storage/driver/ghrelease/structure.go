package ghrelease

import (
	"fmt"
	"net/url"
	"strings"
)

// repoMapping binds a virtual root (an alias directory, or "/" for a single
// repo mounted at the root) to a GitHub owner/repo pair.
type repoMapping struct {
	Alias string // "" when the repo is mounted at the root
	Owner string
	Repo  string
}

func (m repoMapping) String() string {
	if m.Alias == "" {
		return m.Owner + "/" + m.Repo
	}
	return m.Alias + ":" + m.Owner + "/" + m.Repo
}

// parseRepoStructure parses the repo_structure parameter. Accepted line
// syntaxes:
//
//	owner/repo
//	alias:owner/repo
//	https://github.com/owner/repo[/...]
//
// Blank lines and #-comments are ignored. A single entry may live at the
// mount root; multiple entries must all carry distinct aliases.
func parseRepoStructure(structure string) ([]repoMapping, error) {
	var mappings []repoMapping
	for _, raw := range strings.Split(structure, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m, err := parseRepoLine(line)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("repo_structure: no repositories configured")
	}

	if len(mappings) > 1 {
		seen := make(map[string]bool, len(mappings))
		for _, m := range mappings {
			if m.Alias == "" {
				return nil, fmt.Errorf("repo_structure: %s/%s needs an alias when multiple repositories are configured", m.Owner, m.Repo)
			}
			if seen[m.Alias] {
				return nil, fmt.Errorf("repo_structure: duplicate alias %q", m.Alias)
			}
			seen[m.Alias] = true
		}
	}
	return mappings, nil
}

func parseRepoLine(line string) (repoMapping, error) {
	var alias string

	// alias:owner/repo, careful not to eat the scheme colon of a URL
	if idx := strings.Index(line, ":"); idx > 0 && !strings.Contains(line[:idx], "/") && !strings.HasPrefix(line, "http") {
		alias = strings.TrimSpace(line[:idx])
		line = strings.TrimSpace(line[idx+1:])
	}

	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		u, err := url.Parse(line)
		if err != nil {
			return repoMapping{}, fmt.Errorf("repo_structure: invalid URL %q: %w", line, err)
		}
		if u.Host != "github.com" {
			return repoMapping{}, fmt.Errorf("repo_structure: unsupported host %q", u.Host)
		}
		line = strings.Trim(u.Path, "/")
	}

	parts := strings.Split(strings.Trim(line, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return repoMapping{}, fmt.Errorf("repo_structure: cannot parse %q, want owner/repo", line)
	}
	m := repoMapping{Alias: alias, Owner: parts[0], Repo: parts[1]}
	if m.Alias == "" && len(parts) > 2 {
		// deep URL like https://github.com/owner/repo/releases: extra
		// segments are dropped, the repo is what matters
		m.Alias = ""
	}
	return m, nil
}

// resolveMapping splits a virtual path into its repo mapping and the path
// remainder inside that repo's tree.
func resolveMapping(mappings []repoMapping, subPath string) (*repoMapping, string, bool) {
	trimmed := strings.Trim(subPath, "/")

	if len(mappings) == 1 && mappings[0].Alias == "" {
		return &mappings[0], "/" + trimmed, true
	}

	if trimmed == "" {
		return nil, "/", true // mount root listing aliases
	}
	segs := strings.SplitN(trimmed, "/", 2)
	for i := range mappings {
		if mappings[i].Alias == segs[0] {
			rest := "/"
			if len(segs) == 2 {
				rest = "/" + segs[1]
			}
			return &mappings[i], rest, true
		}
	}
	return nil, "", false
}
