package sorter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/fsutil"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/utils"
)

// Sorter applies the declarative placement rules after downloads commit.
// Conditions are a tiny closed grammar:
//
//	slug matches '<regexp>'
//	filename matches '<regexp>'
//	slug contains '<substring>'
//	filename contains '<substring>'
//	true
type Sorter struct {
	rules []compiledRule
}

type compiledRule struct {
	field   string // "slug", "filename", or "" for the catch-all
	op      string // "matches" or "contains"
	pattern *regexp.Regexp
	substr  string
	moveTo  string
}

var ruleRe = regexp.MustCompile(`^(slug|filename)\s+(matches|contains)\s+'(.+)'$`)

func New(rules []config.SortingRule) (*Sorter, error) {
	s := &Sorter{}
	for _, rule := range rules {
		cond := strings.TrimSpace(rule.If)
		if cond == "true" {
			s.rules = append(s.rules, compiledRule{moveTo: rule.MoveTo})
			continue
		}
		m := ruleRe.FindStringSubmatch(cond)
		if m == nil {
			return nil, fmt.Errorf("unparseable sorting rule: %q", rule.If)
		}
		cr := compiledRule{field: m[1], op: m[2], moveTo: rule.MoveTo}
		if cr.op == "matches" {
			re, err := regexp.Compile(m[3])
			if err != nil {
				return nil, fmt.Errorf("bad pattern in sorting rule %q: %v", rule.If, err)
			}
			cr.pattern = re
		} else {
			cr.substr = m[3]
		}
		s.rules = append(s.rules, cr)
	}
	return s, nil
}

// Target returns the directory the first matching rule names, or "" when
// no rule matches.
func (s *Sorter) Target(slug, filename string) string {
	for _, rule := range s.rules {
		if rule.field == "" {
			return rule.moveTo
		}
		value := slug
		if rule.field == "filename" {
			value = filename
		}
		switch rule.op {
		case "matches":
			if rule.pattern.MatchString(value) {
				return rule.moveTo
			}
		case "contains":
			if strings.Contains(value, rule.substr) {
				return rule.moveTo
			}
		}
	}
	return ""
}

// Place moves a committed file and its sidecar into the rule target.
// Returns the new path ("" when no rule applied).
func (s *Sorter) Place(dest, slug string) (string, error) {
	log := utils.GetLogger("sorter")
	filename := filepath.Base(dest)
	target := s.Target(slug, filename)
	if target == "" {
		return "", nil
	}
	if err := fsutil.EnsureDir(target); err != nil {
		return "", err
	}
	newPath := filepath.Join(target, filename)
	if newPath == dest {
		return "", nil
	}
	if err := fsutil.RenameAtomic(dest, newPath); err != nil {
		return "", err
	}
	metaOld := sidecar.MetaPath(dest)
	if _, err := os.Stat(metaOld); err == nil {
		if err := fsutil.RenameAtomic(metaOld, sidecar.MetaPath(newPath)); err != nil {
			return "", err
		}
	}
	log.Debug().Str("op", "sorter").Msgf("Moved %s to %s", dest, newPath)
	return newPath, nil
}
