package xfile

import (
	"fmt"
	"path/filepath"
	"strings"
)

// illegalNameChars 在主流文件系统上不能出现在文件名里的字符
const illegalNameChars = `\/:*?"<>|`

// containsNullByte 检测路径是否包含空字节。
func containsNullByte(path string) bool {
	return strings.ContainsRune(path, 0)
}

// hasDotDotSegment 检测路径中是否包含 ".." 作为独立路径段。
// '/' 和 '\' 都视为分隔符，以便在 Linux 上也能拦截 Windows 风格的穿越。
func hasDotDotSegment(path string) bool {
	i := 0
	for i < len(path) {
		if path[i] == '/' || path[i] == '\\' {
			i++
			continue
		}
		j := i
		for j < len(path) && path[j] != '/' && path[j] != '\\' {
			j++
		}
		if j-i == 2 && path[i] == '.' && path[i+1] == '.' {
			return true
		}
		i = j
	}
	return false
}

// isWindowsAbsPath 检测 "C:..."、"\..." 与 UNC 形式的路径。
// 非 Windows 平台上 filepath.IsAbs 不识别它们。
func isWindowsAbsPath(path string) bool {
	if len(path) >= 2 && path[1] == ':' &&
		((path[0] >= 'A' && path[0] <= 'Z') || (path[0] >= 'a' && path[0] <= 'z')) {
		return true
	}
	return len(path) >= 1 && path[0] == '\\'
}

// SanitizePath 对文件路径进行安全检查和规范化
//
// 接受绝对路径与相对路径，拒绝：
//   - 空路径和包含空字节的路径
//   - 以分隔符结尾的目录路径
//   - 规范化后仍包含 ".." 路径段的相对路径
//
// 本函数只做格式净化，不把路径限制在某个目录内；需要目录隔离时使用 [JoinUnder]。
func SanitizePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required: %w", ErrEmptyPath)
	}
	if containsNullByte(filename) {
		return "", fmt.Errorf("filename contains null byte: %w", ErrNullByte)
	}
	// 必须在 filepath.Clean 之前检查，Clean 会去掉尾部分隔符
	if strings.HasSuffix(filename, "/") || strings.HasSuffix(filename, "\\") {
		return "", fmt.Errorf("path is a directory: %w", ErrInvalidPath)
	}

	cleaned := filepath.Clean(filename)
	if hasDotDotSegment(cleaned) {
		return "", fmt.Errorf("path traversal in filename: %w", ErrPathTraversal)
	}

	base := filepath.Base(cleaned)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("no file name specified: %w", ErrInvalidPath)
	}
	return cleaned, nil
}

// JoinUnder 把相对路径 rel 拼接到 base 下
//
// 与标准库 filepath.Join 不同：
//   - rel 必须是相对路径（拒绝 "/x"、"C:\x"、"\\server\x"）
//   - rel 中任何 ".." 路径段都会被拒绝
//   - base 可以是相对路径（如默认的 "logs"），为空时视为当前目录
//
// rel 为空时返回规范化后的 base。
//
// 设计决策: 不解析符号链接。日志目录在配置阶段往往尚未创建，
// 解析符号链接要求路径存在，会破坏纯路径构建。
func JoinUnder(base, rel string) (string, error) {
	if containsNullByte(base) || containsNullByte(rel) {
		return "", fmt.Errorf("join %q %q: %w", base, rel, ErrNullByte)
	}
	if base == "" {
		base = "."
	}
	cleanBase := filepath.Clean(base)
	if rel == "" {
		return cleanBase, nil
	}
	if filepath.IsAbs(rel) || isWindowsAbsPath(rel) {
		return "", fmt.Errorf("sub path %q must be relative: %w", rel, ErrInvalidPath)
	}
	cleanRel := filepath.Clean(rel)
	if hasDotDotSegment(cleanRel) {
		return "", fmt.Errorf("sub path %q: %w", rel, ErrPathTraversal)
	}
	return filepath.Join(cleanBase, cleanRel), nil
}

// SanitizeFileName 把任意字符串转为可用作单个文件名的形式
//
// 将 `\ / : * ? " < > |` 与控制字符替换为下划线，并去掉首尾空白。
// 结果为空、"." 或 ".." 时返回 [ErrEmptyName]。
func SanitizeFileName(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.TrimSpace(name) {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(illegalNameChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "", fmt.Errorf("sanitize %q: %w", name, ErrEmptyName)
	}
	return out, nil
}
