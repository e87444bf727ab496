package policy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy files on disk:
//
//   - name.rego holds one policy named after the file. Its leading comment
//     block is the description; a "# severity: <level>" line in that block
//     sets the severity.
//   - name.json holds either a Policy document or a PolicyBundle, told apart
//     by a "policies" array.

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadPaths reads the policies in the given files and directories.
// Directories are walked recursively; an unreadable or malformed file inside
// a directory is logged and skipped, while an explicitly named file must
// load.
func LoadPaths(logger zerolog.Logger, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			policies, err := ParseFile(root)
			if err != nil {
				return nil, err
			}
			out = append(out, policies...)
			continue
		}

		files, err := policyFilesUnder(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		for _, file := range files {
			policies, err := ParseFile(file)
			if err != nil {
				logger.Warn().Err(err).Str("file", file).Msg("Skipping policy file")
				continue
			}
			out = append(out, policies...)
		}
	}

	logger.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("Read policy files")
	return out, nil
}

// policyFilesUnder lists policy files below dir in lexical order.
func policyFilesUnder(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// ParseFile reads one policy file.
func ParseFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var policies []Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err := parseRego(path, string(data))
		if err != nil {
			return nil, err
		}
		policies = []Policy{p}
	case ".json":
		policies, err = parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: not a .rego or .json policy file", path)
	}

	stamp := time.Now()
	for i := range policies {
		p := &policies[i]
		if p.Severity == "" {
			p.Severity = SeverityWarning
		}
		if !validSeverity(p.Severity) {
			return nil, fmt.Errorf("%s: policy %s has unknown severity %q", path, p.Name, p.Severity)
		}
		if p.Metadata == nil {
			p.Metadata = map[string]interface{}{}
		}
		p.Metadata["source"] = path
		if p.CreatedAt.IsZero() {
			p.CreatedAt = stamp
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = stamp
		}
	}
	return policies, nil
}

func parseRego(path, src string) (Policy, error) {
	description, severity := regoHeader(src)
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        src,
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
	}, nil
}

func parseJSON(data []byte) ([]Policy, error) {
	var probe struct {
		Policies json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}

	if probe.Policies != nil {
		var bundle PolicyBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("invalid policy bundle: %w", err)
		}
		for i := range bundle.Policies {
			if bundle.Policies[i].Name == "" {
				return nil, fmt.Errorf("bundle %s: policy %d has no name", bundle.Name, i)
			}
			if bundle.Policies[i].Tags == nil {
				bundle.Policies[i].Tags = []string{}
			}
			bundle.Policies[i].Tags = append(bundle.Policies[i].Tags, "bundle:"+bundle.Name)
		}
		return bundle.Policies, nil
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	return []Policy{p}, nil
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// regoHeader splits the leading comment block of a Rego module into a
// description and an optional severity. The block ends at the first
// non-comment line after some header content was seen.
func regoHeader(src string) (string, Severity) {
	var words []string
	var severity Severity

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		text, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && (len(words) > 0 || severity != "") {
				break
			}
			continue
		}

		text = strings.TrimSpace(text)
		if key, val, ok := strings.Cut(text, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "severity") {
			severity = Severity(strings.ToLower(strings.TrimSpace(val)))
			continue
		}
		if text != "" && !strings.HasPrefix(text, "package") {
			words = append(words, text)
		}
	}
	return strings.Join(words, " "), severity
}
