package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
)

var (
	// ErrNoRules indicates a rules file with an empty or missing rule list.
	ErrNoRules = errors.New("rules file contains no rules")

	// ErrInvalidRule indicates a rule that cannot be used.
	ErrInvalidRule = errors.New("invalid classification rule")
)

// maxRulesFileSize caps rule files at 1MB, same as config files.
const maxRulesFileSize = 1 << 20

// OperationConfig declares an operation within a RuleConfig. Empty
// keywords declare the operation whenever the parent rule matches.
type OperationConfig struct {
	Name     string   `koanf:"name"`
	Keywords []string `koanf:"keywords"`
}

// RuleConfig is the yaml form of a classification rule.
type RuleConfig struct {
	Tag        string            `koanf:"tag"`
	Confidence float64           `koanf:"confidence"`
	Keywords   []string          `koanf:"keywords"`
	Operations []OperationConfig `koanf:"operations"`
}

// rulesFile is the top-level yaml document.
type rulesFile struct {
	Rules []RuleConfig `koanf:"rules"`
}

// loadRules reads and compiles a rule table from a yaml file.
func loadRules(path string) ([]rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	if len(data) > maxRulesFileSize {
		return nil, fmt.Errorf("rules file exceeds %d bytes", maxRulesFileSize)
	}
	return parseRules(data)
}

// parseRules compiles a yaml rule document into a rule table. Rules keep
// their file order, which becomes the evaluation order.
func parseRules(data []byte) ([]rule, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing rules yaml: %w", err)
	}

	var doc rulesFile
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, ErrNoRules
	}

	rules := make([]rule, 0, len(doc.Rules))
	for i, rc := range doc.Rules {
		tag := capability.Tag(rc.Tag)
		if !tag.Valid() || tag == capability.TagChat {
			return nil, fmt.Errorf("%w: rule %d has tag %q", ErrInvalidRule, i, rc.Tag)
		}
		if len(rc.Keywords) == 0 {
			return nil, fmt.Errorf("%w: rule %d (%s) has no keywords", ErrInvalidRule, i, rc.Tag)
		}
		conf := rc.Confidence
		if conf <= 0 {
			conf = 0.7
		}
		if conf > 1.0 {
			conf = 1.0
		}
		r := rule{
			tag:        tag,
			confidence: conf,
			keywords:   lowerAll(rc.Keywords),
		}
		for _, oc := range rc.Operations {
			if oc.Name == "" {
				return nil, fmt.Errorf("%w: rule %d (%s) has an unnamed operation", ErrInvalidRule, i, rc.Tag)
			}
			r.operations = append(r.operations, opRule{
				name:     oc.Name,
				keywords: lowerAll(oc.Keywords),
			})
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}

// Reload replaces the rule table from a yaml file.
func (c *KeywordClassifier) Reload(path string) error {
	rules, err := loadRules(path)
	if err != nil {
		return err
	}
	c.rules.Store(&rules)
	return nil
}

// ResetRules restores the built-in rule table.
func (c *KeywordClassifier) ResetRules() {
	rules := defaultRules()
	c.rules.Store(&rules)
}

// Watch reloads the rule table whenever the file changes. A broken file
// logs a warning and keeps the previous table. Watch blocks until ctx is
// done; run it in its own goroutine.
func (c *KeywordClassifier) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-style saves are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching rules directory: %w", err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.Reload(path); err != nil {
				logger.Warn("classification rules reload failed, keeping previous table",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			logger.Info("classification rules reloaded", zap.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}
