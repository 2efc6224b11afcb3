package namehelper

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// 文件名中需要替换为下划线的保留字符
var reservedReplacer = strings.NewReplacer(
	" ", "_",
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// 替换完保留字符后仍残留的非 ASCII 序列
var nonASCIIPattern = regexp.MustCompile(`[^\x00-\x7F]+`)

// Sanitize 规范化文件名：NFKD 分解去掉组合符号，保留字符和非 ASCII 字符替换为下划线。
// 结果只含 ASCII，且对已规范化的名字再次调用不会改变结果。
func Sanitize(name string) string {
	// 先做兼容分解，把带重音的字符拆成基字符加组合符号
	decomposed := norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // 丢弃组合符号
		}
		b.WriteRune(r)
	}

	result := reservedReplacer.Replace(b.String())
	return nonASCIIPattern.ReplaceAllString(result, "_")
}

// FileStem 取第一个点号之前的部分，用于匹配同一任务的残留文件
func FileStem(name string) string {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}
