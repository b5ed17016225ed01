package marker

import "strings"

// Decision 描述一次标记检查的结果。
type Decision struct {
	Text     string
	Matched  string
	Appended bool
}

// Contains 判断文本中是否出现任一人设标记（不区分大小写的子串匹配）。
func Contains(text string, markers []string) bool {
	_, ok := firstMatch(text, markers)
	return ok
}

// Ensure 保证回复中至少包含一个人设标记，缺失时追加 suffix。
func Ensure(text string, markers []string, suffix string) string {
	return Analyze(text, markers, suffix).Text
}

// Analyze 与 Ensure 相同，但额外返回命中的标记，便于日志记录。
func Analyze(text string, markers []string, suffix string) Decision {
	if hit, ok := firstMatch(text, markers); ok {
		return Decision{Text: text, Matched: hit}
	}
	return Decision{Text: text + suffix, Appended: true}
}

func firstMatch(text string, markers []string) (string, bool) {
	normalized := strings.ToLower(text)
	if normalized == "" {
		return "", false
	}
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(normalized, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}
