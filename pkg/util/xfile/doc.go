// Package xfile 提供日志文件落盘所需的路径与目录工具。
//
// # 路径函数
//
//   - SanitizePath: 规范化文件路径，拒绝空路径、空字节、相对路径穿越和目录路径
//   - JoinUnder: 把相对子路径拼到基准目录下，结果保证不逃出基准目录
//   - SanitizeFileName: 把 logger 名称等用户输入转为合法的单个文件名
//
// # 路径穿越检测
//
// 只有 ".." 作为独立路径段时才视为穿越。"..config"、"app..2024.log"
// 这类合法文件名不会被误判：
//
//	JoinUnder("logs", "..config")      // ✓ "logs/..config"
//	JoinUnder("logs", "../etc/passwd") // ✗ ErrPathTraversal
//
// # 目录创建
//
// EnsureDir 以 0750 权限创建文件的父目录。底层使用 os.MkdirAll，
// 会跟随符号链接；不可信输入应先经过 SanitizePath 或 JoinUnder。
//
// # 错误处理
//
// 预定义错误变量支持 [errors.Is] 判断。
package xfile
