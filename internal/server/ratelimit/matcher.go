package ratelimit

import "strings"

// Match returns the first rule whose method and pattern match the request, or nil.
func Match(method, path string, rules []Rule) *Rule {
	segments := splitPath(path)
	for i := range rules {
		rule := &rules[i]
		if rule.Method != "" && rule.Method != method {
			continue
		}
		if matchSegments(splitPath(rule.Pattern), segments) {
			return rule
		}
	}
	return nil
}

func matchSegments(pattern, path []string) bool {
	for i, p := range pattern {
		if p == "**" {
			return true
		}
		if i >= len(path) {
			return false
		}
		if p != "*" && p != path[i] {
			return false
		}
	}
	return len(pattern) == len(path)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
