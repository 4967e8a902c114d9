package rules

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and managing detection rules
type Loader struct {
	rulesDir   string
	hotReload  bool
	logger     *slog.Logger
	mu         sync.RWMutex
	snapshot   *RuleSnapshot
	watchers   []chan struct{}
	debounceMs int
}

// NewLoader creates a new rule loader
func NewLoader(rulesDir string, hotReload bool, debounceMs int, logger *slog.Logger) *Loader {
	return &Loader{
		rulesDir:   rulesDir,
		hotReload:  hotReload,
		logger:     logger,
		debounceMs: debounceMs,
	}
}

// LoadSnapshot loads all rules from the rules directory. On the initial load
// any invalid rule definition is a hard error; on reloads invalid rules are
// skipped with a warning so a bad edit cannot take the detector down.
func (l *Loader) LoadSnapshot() (*RuleSnapshot, error) {
	l.mu.RLock()
	initial := l.snapshot == nil
	l.mu.RUnlock()

	l.logger.Info("Loading rules snapshot", "rules_dir", l.rulesDir)

	ruleFiles, err := l.readRuleFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to read rule files: %w", err)
	}

	var allRules []Rule
	ruleMap := make(map[string]Rule)

	for _, file := range ruleFiles {
		fileRules, err := l.loadRulesFromFile(file)
		if err != nil {
			if initial {
				return nil, fmt.Errorf("failed to load rules from %s: %w", file, err)
			}
			l.logger.Warn("Failed to load rules from file", "file", file, "error", err)
			continue
		}

		for _, rule := range fileRules {
			if !rule.IsEnabled() {
				l.logger.Debug("Skipping disabled rule", "rule_id", rule.ID, "file", file)
				continue
			}

			if err := rule.Validate(); err != nil {
				if initial {
					return nil, fmt.Errorf("invalid rule %q in %s: %w", rule.ID, file, err)
				}
				l.logger.Warn("Invalid rule skipped", "rule_id", rule.ID, "file", file, "error", err)
				continue
			}

			if existing, exists := ruleMap[rule.ID]; exists {
				l.logger.Info("Rule ID conflict resolved by filename override",
					"rule_id", rule.ID,
					"new_file", file,
					"old_file", existing.SourceFile)
			}

			rule.SourceFile = file
			ruleMap[rule.ID] = rule
		}
	}

	for _, rule := range ruleMap {
		allRules = append(allRules, rule)
	}

	sort.Slice(allRules, func(i, j int) bool {
		return allRules[i].ID < allRules[j].ID
	})

	snapshot := &RuleSnapshot{
		Rules:   allRules,
		Version: time.Now().UnixNano(),
	}

	l.logger.Info("Rules snapshot loaded",
		"total_rules", len(allRules),
		"version", snapshot.Version)

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()

	l.notifyWatchers()

	return snapshot, nil
}

// GetSnapshot returns the current rules snapshot
func (l *Loader) GetSnapshot() *RuleSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.snapshot == nil {
		return &RuleSnapshot{Rules: []Rule{}, Version: 0}
	}

	rules := make([]Rule, len(l.snapshot.Rules))
	copy(rules, l.snapshot.Rules)

	return &RuleSnapshot{
		Rules:   rules,
		Version: l.snapshot.Version,
	}
}

// WatchForChanges starts watching for rule file changes (if hot reload is enabled)
func (l *Loader) WatchForChanges() error {
	if !l.hotReload {
		l.logger.Info("Hot reload disabled")
		return nil
	}

	l.logger.Info("Starting rule file watcher", "rules_dir", l.rulesDir)

	reloadChan := make(chan struct{}, 1)

	go l.watchFiles(reloadChan)
	go l.debouncedReload(reloadChan)

	return nil
}

// Subscribe returns a channel that receives a notification when rules change
func (l *Loader) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	l.watchers = append(l.watchers, ch)
	l.mu.Unlock()

	return ch
}

// readRuleFiles reads all rule file paths from the rules directory, sorted by filename
func (l *Loader) readRuleFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(l.rulesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)

	return files, nil
}

// loadRulesFromFile loads rules from a single YAML file, either one rule or a list
func (l *Loader) loadRulesFromFile(filename string) ([]Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var fileRules []Rule

	var single Rule
	if err := yaml.Unmarshal(data, &single); err == nil && single.ID != "" {
		fileRules = append(fileRules, single)
	} else {
		if err := yaml.Unmarshal(data, &fileRules); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	l.logger.Debug("Loaded rules from file", "file", filename, "count", len(fileRules))
	return fileRules, nil
}

// watchFiles polls the rules directory, comparing the full file set so
// removed files trigger a reload just like edits and additions
func (l *Loader) watchFiles(reloadChan chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastSeen map[string]time.Time

	for range ticker.C {
		seen := make(map[string]time.Time)

		err := filepath.WalkDir(l.rulesDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".yaml" || ext == ".yml" {
				info, err := d.Info()
				if err != nil {
					return err
				}
				seen[path] = info.ModTime()
			}

			return nil
		})

		if err != nil {
			l.logger.Error("Error watching rule files", "error", err)
			continue
		}

		if lastSeen == nil {
			lastSeen = seen
			continue
		}

		if ruleFilesChanged(lastSeen, seen) {
			l.logger.Info("Rule files changed, triggering reload")
			select {
			case reloadChan <- struct{}{}:
			default:
			}
		}
		lastSeen = seen
	}
}

// ruleFilesChanged reports whether the observed file set differs from the
// previous pass: a file added, removed, or with a new modification time
func ruleFilesChanged(prev, next map[string]time.Time) bool {
	if len(prev) != len(next) {
		return true
	}
	for path, modTime := range next {
		prevMod, ok := prev[path]
		if !ok || !modTime.Equal(prevMod) {
			return true
		}
	}
	return false
}

// debouncedReload handles debounced rule reloading
func (l *Loader) debouncedReload(reloadChan chan struct{}) {
	var timer *time.Timer

	for range reloadChan {
		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(time.Duration(l.debounceMs)*time.Millisecond, func() {
			if _, err := l.LoadSnapshot(); err != nil {
				l.logger.Error("Failed to reload rules", "error", err)
			}
		})
	}
}

// notifyWatchers notifies all subscribed watchers
func (l *Loader) notifyWatchers() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
