package messaging

import (
	"fmt"
	"strings"
)

// RoutingKey 形如 "<domain>.<operation>" 的路由键
type RoutingKey string

// ParseRoutingKey 解析并校验路由键
func ParseRoutingKey(s string) (RoutingKey, error) {
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", fmt.Errorf("invalid routing key %q: want <domain>.<operation>", s)
	}
	if strings.IndexByte(s[i+1:], '.') >= 0 {
		return "", fmt.Errorf("invalid routing key %q: operation must be a single word", s)
	}
	if strings.ContainsAny(s, "*# ") {
		return "", fmt.Errorf("invalid routing key %q: wildcards and spaces are not allowed", s)
	}
	return RoutingKey(s), nil
}

// Domain 领域部分
func (k RoutingKey) Domain() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Operation 操作部分
func (k RoutingKey) Operation() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func (k RoutingKey) String() string { return string(k) }

// ValidatePattern 校验绑定模式，单词之间以 '.' 分隔，不允许空单词
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("binding pattern is empty")
	}
	for _, w := range strings.Split(pattern, ".") {
		if w == "" {
			return fmt.Errorf("binding pattern %q has an empty word", pattern)
		}
		if strings.ContainsAny(w, "*#") && len(w) > 1 {
			return fmt.Errorf("binding pattern %q: wildcard must be a whole word", pattern)
		}
	}
	return nil
}

// MatchRoutingKey 主题交换机匹配：'*' 匹配恰好一个单词，'#' 匹配零个或多个单词
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
