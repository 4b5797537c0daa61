package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of writes an editor makes on save.
const reloadDebounce = 500 * time.Millisecond

// Source is a set of operator policy files and directories on disk.
//
// A .rego file becomes a warning-severity policy named after the file, with
// its leading comment block as description. A .json file holds a complete
// Policy document; "enabled" defaults to true when omitted.
type Source struct {
	paths  []string
	logger zerolog.Logger
}

// NewSource returns a Source over paths.
func NewSource(logger zerolog.Logger, paths ...string) *Source {
	return &Source{
		paths:  paths,
		logger: logger.With().Str("component", "policy-source").Logger(),
	}
}

// Load reads every policy below the source paths. A path that does not
// exist fails the load; a broken file inside a directory is skipped with a
// warning so one typo does not drop the whole directory.
func (s *Source) Load(ctx context.Context) ([]Policy, error) {
	var out []Policy
	for _, path := range s.paths {
		found, err := s.loadPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		out = append(out, found...)
	}
	s.logger.Debug().Int("policies", len(out)).Strs("paths", s.paths).Msg("Operator policies read")
	return out, nil
}

func (s *Source) loadPath(ctx context.Context, path string) ([]Policy, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		p, err := readPolicy(path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var out []Policy
	err = filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}
		p, err := readPolicy(file)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", file).Msg("Skipping unreadable policy")
			return nil
		}
		out = append(out, *p)
		return nil
	})
	return out, err
}

func isPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".rego", ".json":
		return true
	}
	return false
}

// readPolicy parses one policy file by extension.
func readPolicy(file string) (*Policy, error) {
	if !isPolicyFile(file) {
		return nil, fmt.Errorf("unsupported policy file %s: want .rego or .json", filepath.Base(file))
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(file) == ".rego" {
		return regoPolicy(file, string(data)), nil
	}
	return jsonPolicy(file, data)
}

func regoPolicy(file, src string) *Policy {
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(file), ".rego"),
		Description: leadingComment(src),
		Rego:        src,
		Severity:    SeverityWarning,
		Enabled:     true,
		Metadata:    map[string]interface{}{"source": file},
	}
}

func jsonPolicy(file string, data []byte) (*Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(file), err)
	}
	switch {
	case p.Name == "":
		return nil, errors.New("policy document has no name")
	case p.Rego == "":
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = file
	return &p, nil
}

// leadingComment joins the comment lines that open a Rego file, up to the
// first line of code.
func leadingComment(src string) string {
	var words []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			if line != "" && len(words) > 0 {
				break
			}
			continue
		}
		if text := strings.TrimSpace(strings.TrimPrefix(line, "#")); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}

// Watch re-reads the source after policy files change and hands the result
// to onChange, until ctx is done. Watch returns once every path is
// registered with the watcher; directories created later are picked up as
// they appear.
func (s *Source) Watch(ctx context.Context, onChange func([]Policy, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	for _, path := range s.paths {
		if err := addTree(w, path); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	go s.forward(ctx, w, onChange)
	s.logger.Info().Strs("paths", s.paths).Msg("Watching operator policies")
	return nil
}

// addTree watches path and, for a directory, every directory below it.
func addTree(w *fsnotify.Watcher, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return w.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

func (s *Source) forward(ctx context.Context, w *fsnotify.Watcher, onChange func([]Policy, error)) {
	defer w.Close()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						s.logger.Warn().Err(err).Str("dir", ev.Name).Msg("Cannot watch new policy directory")
					}
					continue
				}
			}
			if !isPolicyFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				onChange(s.Load(ctx))
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}
