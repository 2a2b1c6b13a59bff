// Package secrets scrubs credentials from text before it is persisted,
// using the Gitleaks SDK's default ruleset.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub returns the content with detected secrets replaced by
	// [REDACTED:rule-id] markers.
	Scrub(content string) string

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// scrubber detects secrets with a shared Gitleaks detector.
type scrubber struct {
	// Detectors are not documented as safe for concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

// New creates a Scrubber from configuration. When scrubbing is disabled a
// pass-through scrubber is returned. The detector is built once here; the
// default Gitleaks config compiles hundreds of rules and is too expensive
// to rebuild per call.
func New(cfg config.ScrubberConfig) (Scrubber, error) {
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		allowlist, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scrubber allowlist: %w", err)
		}
		applyAllowlist(&detector.Config, allowlist)
	}

	return &scrubber{detector: detector}, nil
}

// Scrub replaces every detected secret value with a redaction marker.
// Replacement is by value, the same strategy as the SDK's own redact
// mode, so multi-line secrets (PEM blocks) and repeated occurrences are
// all covered.
func (s *scrubber) Scrub(content string) string {
	if content == "" {
		return content
	}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(findings) == 0 {
		return content
	}

	// Longest secrets first so a substring secret cannot resurface part
	// of an already redacted longer one.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	seen := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		if _, done := seen[secret]; done {
			continue
		}
		seen[secret] = struct{}{}

		content = strings.ReplaceAll(content, secret, "[REDACTED:"+f.RuleID+"]")
	}

	return content
}

// IsEnabled returns true.
func (s *scrubber) IsEnabled() bool {
	return true
}

// NoopScrubber passes content through unchanged (disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) string {
	return content
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

// Compile-time checks that both implementations satisfy Scrubber.
var _ Scrubber = (*scrubber)(nil)
var _ Scrubber = (*NoopScrubber)(nil)
