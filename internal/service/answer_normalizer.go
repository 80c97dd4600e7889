package service

import (
	"sort"
	"strings"
)

// AnswerSeparator 多选题标准答案中各选项的分隔符，也是规范形式的连接符
const AnswerSeparator = "|"

// NormalizeChoice 转小写、去空白、去重、排序后用分隔符拼接
// 空提交得到空字符串
func NormalizeChoice(tokens []string) string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, AnswerSeparator)
}

// NormalizeCorrectAnswer 标准答案先按 | 拆分，再做相同的规范化
func NormalizeCorrectAnswer(spec string) string {
	return NormalizeChoice(strings.Split(spec, AnswerSeparator))
}

// AnswersEqual 规范形式完全相同才算相等；空提交永远不等于非空答案
func AnswersEqual(submitted []string, correctSpec string) bool {
	got := NormalizeChoice(submitted)
	want := NormalizeCorrectAnswer(correctSpec)
	if got == "" || want == "" {
		return false
	}
	return got == want
}
