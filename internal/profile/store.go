package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Lookup for names not in the store.
var ErrNotFound = errors.New("profile not found")

// ConfigError reports a missing or malformed profile source.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("profile source %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Store is an ordered, read-only collection of profiles.
// It is safe for concurrent use because it is never modified after construction.
type Store struct {
	profiles []Profile
	index    map[string]int
}

// NewStore builds a store from profiles in order. Invalid profiles are skipped
// and duplicate names keep the first definition; both are logged.
func NewStore(profiles []Profile, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{index: make(map[string]int, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			log.Warn("skipping invalid profile", "error", err)
			continue
		}
		if _, dup := s.index[p.Name]; dup {
			log.Warn("duplicate profile name, keeping first definition", "profile", p.Name)
			continue
		}
		s.index[p.Name] = len(s.profiles)
		s.profiles = append(s.profiles, p.clone())
	}
	return s
}

// Load reads profiles from a JSON file, or YAML when the extension is .yaml/.yml.
func Load(path string, log *slog.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var profiles []Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		profiles, err = decodeYAML(data)
	default:
		profiles, err = decodeJSON(data)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return NewStore(profiles, log), nil
}

// LoadOrEmpty is Load that logs failures and falls back to an empty store, so
// the owning device starts in an inert state instead of failing startup.
func LoadOrEmpty(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s, err := Load(path, log)
	if err != nil {
		log.Error("failed to load profiles, no actuation available", "error", err)
		return NewStore(nil, log)
	}
	log.Info("loaded profiles", "path", path, "count", s.Len())
	return s
}

// Lookup returns the profile with exactly the given name.
func (s *Store) Lookup(name string) (Profile, error) {
	i, ok := s.index[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.profiles[i].clone(), nil
}

// Default returns the first profile in source order.
func (s *Store) Default() (Profile, bool) {
	if len(s.profiles) == 0 {
		return Profile{}, false
	}
	return s.profiles[0].clone(), true
}

// Names returns the profile names in source order.
func (s *Store) Names() []string {
	names := make([]string, len(s.profiles))
	for i, p := range s.profiles {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of profiles.
func (s *Store) Len() int { return len(s.profiles) }

// jsonRecord is a profile as it appears in a JSON source.
type jsonRecord struct {
	Name         string          `json:"name"`
	Repeat       json.RawMessage `json:"repeat"`
	DelayStartMs *int            `json:"delay_start_ms"`
	DelayEndMs   *int            `json:"delay_end_ms"`
	DelayStart   *int            `json:"delay_start"`
	DelayEnd     *int            `json:"delay_end"`
	Pattern      [][]any         `json:"pattern"`
}

// yamlRecord is a profile as it appears in a YAML source. Repeat is kept as a
// node so that a bare ~ (null) can be told apart from a missing key.
type yamlRecord struct {
	Name         string    `yaml:"name"`
	Repeat       yaml.Node `yaml:"repeat"`
	DelayStartMs *int      `yaml:"delay_start_ms"`
	DelayEndMs   *int      `yaml:"delay_end_ms"`
	DelayStart   *int      `yaml:"delay_start"`
	DelayEnd     *int      `yaml:"delay_end"`
	Pattern      [][]any   `yaml:"pattern"`
}

func decodeJSON(data []byte) ([]Profile, error) {
	var records []jsonRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	out := make([]Profile, 0, len(records))
	for i, r := range records {
		if len(r.Repeat) == 0 {
			return nil, fmt.Errorf("record %d (%q): missing repeat", i, r.Name)
		}
		var rep Repeat
		if err := rep.UnmarshalJSON(r.Repeat); err != nil {
			return nil, fmt.Errorf("record %d (%q): %w", i, r.Name, err)
		}
		p, err := buildProfile(r.Name, rep, pick(r.DelayStartMs, r.DelayStart), pick(r.DelayEndMs, r.DelayEnd), r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeYAML(data []byte) ([]Profile, error) {
	var records []yamlRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := make([]Profile, 0, len(records))
	for i, r := range records {
		var rep Repeat
		switch {
		case r.Repeat.Kind == 0:
			return nil, fmt.Errorf("record %d (%q): missing repeat", i, r.Name)
		case r.Repeat.Tag == "!!null":
			rep = Forever
		default:
			v, err := parseRepeat(r.Repeat.Value)
			if err != nil {
				return nil, fmt.Errorf("record %d (%q): %w", i, r.Name, err)
			}
			rep = v
		}
		p, err := buildProfile(r.Name, rep, pick(r.DelayStartMs, r.DelayStart), pick(r.DelayEndMs, r.DelayEnd), r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// pick prefers the *_ms key over the legacy one.
func pick(ms, legacy *int) int {
	if ms != nil {
		return *ms
	}
	if legacy != nil {
		return *legacy
	}
	return 0
}

func buildProfile(name string, rep Repeat, delayStart, delayEnd int, pattern [][]any) (Profile, error) {
	p := Profile{
		Name:       name,
		Repeat:     rep,
		DelayStart: ms(delayStart),
		DelayEnd:   ms(delayEnd),
		Pattern:    make([]Step, 0, len(pattern)),
	}
	for j, pair := range pattern {
		step, err := stepFromPair(pair)
		if err != nil {
			return Profile{}, fmt.Errorf("profile %q: step %d: %w", name, j, err)
		}
		p.Pattern = append(p.Pattern, step)
	}
	return p, nil
}

// stepFromPair converts a [state, duration_ms] pair.
func stepFromPair(pair []any) (Step, error) {
	if len(pair) != 2 {
		return Step{}, fmt.Errorf("want [state, duration_ms], got %d elements", len(pair))
	}
	state, ok := pair[0].(string)
	if !ok {
		return Step{}, fmt.Errorf("state must be a string, got %T", pair[0])
	}
	var d int
	switch v := pair[1].(type) {
	case float64:
		if v != float64(int(v)) {
			return Step{}, fmt.Errorf("duration must be whole milliseconds, got %v", v)
		}
		d = int(v)
	case int:
		d = v
	default:
		return Step{}, fmt.Errorf("duration must be a number, got %T", pair[1])
	}
	return Step{State: State(strings.ToUpper(state)), Duration: ms(d)}, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
