// xlogctl 是 xlogkit 日志配置与归档的命令行工具。
//
// 用法:
//
//	xlogctl <命令> [命令参数]
//
// 命令:
//
//	archive-name   计算归档文件名
//	validate       校验配置文件
//	sweep          按保留策略清理归档
//	decompress     解压归档
//	watch          监视配置文件并热更新
//
// 退出码:
//
//	0: 成功
//	1: 命令执行失败（如配置文件非法、清理失败）
//	2: 参数错误（缺少必需参数、非法设置、未知命令等）
//
// 示例:
//
//	xlogctl archive-name -n api --preset daily --start 2025-01-13T23:58:00Z --end 2025-01-14T00:00:05Z
//	xlogctl validate conf/logger.yaml
//	xlogctl sweep -n api -c conf/logger.yaml --dry-run
//	xlogctl decompress logs/[api]2025-01-13.log.gz -o /tmp/api.log
//	xlogctl watch conf/logger.yaml -n api -n worker
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入）
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用
func createApp() *cli.Command {
	return &cli.Command{
		Name:           "xlogctl",
		Usage:          "xlogkit 日志配置与归档工具",
		Version:        fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Commands:       createCommands(),
		DefaultCommand: "help",
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	return exitCode(createApp().Run(ctx, os.Args))
}

// exitCode 把命令错误映射为退出码
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		return 2
	}
	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	return 1
}

// isCLIUsageError 识别 urfave/cli 自身产生的参数错误
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"Required flag",
		"Required flags",
		"flag provided but not defined",
		"invalid value",
		"No help topic",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次信号取消 context，第二次强制退出
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
