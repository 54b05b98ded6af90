package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shellcache/shellcache/internal/config"
)

// Rule 是编译后的缓存规则。
type Rule struct {
	Name    string
	MaxAge  time.Duration
	pattern *regexp.Regexp
}

// Matches 判断路径是否以规则中的扩展名结尾（大小写敏感）。
func (r Rule) Matches(path string) bool {
	return r.pattern != nil && r.pattern.MatchString(path)
}

// RuleTable 按声明顺序保存规则，首个命中者生效。
type RuleTable struct {
	rules []Rule
}

// NewRuleTable 将配置规则编译为后缀正则。
func NewRuleTable(cfgs []config.RuleConfig) (*RuleTable, error) {
	table := &RuleTable{rules: make([]Rule, 0, len(cfgs))}
	for _, cfg := range cfgs {
		if len(cfg.Extensions) == 0 {
			return nil, fmt.Errorf("rule %s: no extensions", cfg.Name)
		}
		quoted := make([]string, len(cfg.Extensions))
		for i, ext := range cfg.Extensions {
			quoted[i] = regexp.QuoteMeta(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		}
		pattern, err := regexp.Compile(`\.(?:` + strings.Join(quoted, "|") + `)$`)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
		}
		table.rules = append(table.rules, Rule{
			Name:    cfg.Name,
			MaxAge:  cfg.MaxAge.DurationValue(),
			pattern: pattern,
		})
	}
	return table, nil
}

// Match 返回首个匹配 path 的规则。
func (t *RuleTable) Match(path string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	for _, rule := range t.rules {
		if rule.Matches(path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules 返回规则副本，供诊断接口展示。
func (t *RuleTable) Rules() []Rule {
	if t == nil {
		return nil
	}
	return append([]Rule(nil), t.rules...)
}
