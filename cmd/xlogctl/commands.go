package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xlogkit/pkg/config/xlogconf"
	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xproxy"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
)

// exitError 命令已完成输出，只需设置退出码
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数错误，退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func createCommands() []*cli.Command {
	return []*cli.Command{
		createArchiveNameCommand(),
		createValidateCommand(),
		createSweepCommand(),
		createDecompressCommand(),
		createWatchCommand(),
	}
}

// =============================================================================
// 公共参数
// =============================================================================

// settingsFlags 日志设置相关参数，依次覆盖配置文件与预设
func settingsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件（.json/.yaml/.yml）"},
		&cli.StringFlag{Name: "preset", Usage: "轮转预设（daily、hourly、weekly 等）"},
		&cli.StringFlag{Name: "rotation", Usage: `轮转策略，如 "1 day"、"20 MB"`},
		&cli.StringFlag{Name: "retention", Usage: `保留策略，如 "7 days"、"10 files"`},
		&cli.StringFlag{Name: "compression", Usage: "压缩算法（gz、zst、lz4、br）"},
		&cli.StringFlag{Name: "compression-format", Usage: "归档文件名模板"},
	}
}

func nameFlag() cli.Flag {
	return &cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "logger 名称", Required: true}
}

// settingsOptions 命令行参数转为配置选项
func settingsOptions(cmd *cli.Command) []xlogconf.Option {
	var opts []xlogconf.Option
	if p := cmd.String("preset"); p != "" {
		opts = append(opts, xlogconf.WithPreset(p))
	}
	for _, f := range []struct {
		flag string
		opt  func(string) xlogconf.Option
	}{
		{"rotation", xlogconf.WithRotation},
		{"retention", xlogconf.WithRetention},
		{"compression", xlogconf.WithCompression},
		{"compression-format", xlogconf.WithCompressionFormat},
	} {
		if v := cmd.String(f.flag); v != "" {
			opts = append(opts, f.opt(v))
		}
	}
	return opts
}

// withRegistry 创建注册表执行 fn，结束后关闭
func withRegistry(ctx context.Context, console io.Writer, fn func(reg *xregistry.Registry) error) (err error) {
	reg, err := xregistry.New(xregistry.WithHandleOptions(xlog.WithConsole(console)))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, reg.Shutdown(shutdownCtx))
	}()
	return fn(reg)
}

// loadConfig 依次应用配置文件与命令行参数，非法设置视为参数错误
func loadConfig(reg *xregistry.Registry, path string, opts []xlogconf.Option) (*xlogconf.Config, error) {
	var (
		cfg *xlogconf.Config
		err error
	)
	if path != "" {
		cfg, err = xlogconf.Load(reg, path, opts...)
	} else {
		cfg, err = xlogconf.New(reg, opts...)
	}
	if errors.Is(err, xlog.ErrInvalidSetting) {
		return nil, &usageError{msg: err.Error()}
	}
	return cfg, err
}

func resolveSettings(ctx context.Context, cmd *cli.Command) (xlog.Settings, error) {
	var s xlog.Settings
	err := withRegistry(ctx, io.Discard, func(reg *xregistry.Registry) error {
		cfg, err := loadConfig(reg, cmd.String("config"), settingsOptions(cmd))
		if err != nil {
			return err
		}
		s = cfg.Settings()
		return nil
	})
	return s, err
}

// parseTime 解析 RFC3339 时间，空值返回 def
func parseTime(flag, v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, usagef("--%s 需要 RFC3339 时间: %v", flag, err)
	}
	return t, nil
}

// =============================================================================
// archive-name
// =============================================================================

func createArchiveNameCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive-name",
		Usage: "计算覆盖 [start, end] 的归档文件名",
		Flags: append(settingsFlags(),
			nameFlag(),
			&cli.StringFlag{Name: "start", Usage: "文件创建时间（RFC3339），默认等于 end"},
			&cli.StringFlag{Name: "end", Usage: "轮转触发时间（RFC3339），默认当前时间"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			end, err := parseTime("end", cmd.String("end"), time.Now())
			if err != nil {
				return err
			}
			start, err := parseTime("start", cmd.String("start"), end)
			if err != nil {
				return err
			}
			s, err := resolveSettings(ctx, cmd)
			if err != nil {
				return err
			}
			return cmdArchiveName(cmd.Root().Writer, s, cmd.String("name"), start, end)
		},
	}
}

func cmdArchiveName(w io.Writer, s xlog.Settings, name string, start, end time.Time) error {
	if end.Before(start) {
		return usagef("end %s 早于 start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	namer, err := s.Namer(name)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	_, err = fmt.Fprintln(w, namer.ArchiveName(start, end))
	return err
}

// =============================================================================
// validate
// =============================================================================

func createValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "校验配置文件",
		ArgsUsage: "<file> [file...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "print", Aliases: []string{"p"}, Usage: "输出规范化后的文档"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return usagef("validate 需要至少一个配置文件")
			}
			return withRegistry(ctx, io.Discard, func(reg *xregistry.Registry) error {
				return cmdValidate(cmd.Root().Writer, cmd.Root().ErrWriter, reg, paths, cmd.Bool("print"))
			})
		},
	}
}

// cmdValidate 逐个校验，任何一个失败时退出码为 1
func cmdValidate(out, errOut io.Writer, reg *xregistry.Registry, paths []string, printDoc bool) error {
	failed := 0
	for _, path := range paths {
		cfg, err := xlogconf.Load(reg, path, xlogconf.WithLogger(slog.New(slog.NewTextHandler(errOut, nil))))
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "%s: %v\n", path, err)
			continue
		}
		s := cfg.Settings()
		fmt.Fprintf(out, "%s: ok (level=%s rotation=%q retention=%q compression=%q)\n",
			path, s.Level, s.Rotation, s.Retention, s.Compression)
		if printDoc {
			format, err := xlogconf.FormatFromPath(path)
			if err != nil {
				return err
			}
			doc, err := cfg.Marshal(format)
			if err != nil {
				return err
			}
			if _, err := out.Write(doc); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// =============================================================================
// sweep
// =============================================================================

func createSweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "按保留策略清理归档",
		Flags: append(settingsFlags(),
			nameFlag(),
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "归档目录，默认取配置的 log_path/subdirectory"},
			&cli.BoolFlag{Name: "dry-run", Usage: "只列出将被删除的归档"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := resolveSettings(ctx, cmd)
			if err != nil {
				return err
			}
			name := cmd.String("name")
			dir := cmd.String("dir")
			if dir == "" {
				live, err := s.LogFile(name)
				if err != nil {
					return &usageError{msg: err.Error()}
				}
				if live == "" {
					return usagef("sweep 需要 --dir 或配置 log_path")
				}
				dir = filepath.Dir(live)
			}
			return cmdSweep(cmd.Root().Writer, s, name, dir, time.Now(), cmd.Bool("dry-run"))
		},
	}
}

func cmdSweep(w io.Writer, s xlog.Settings, name, dir string, now time.Time, dryRun bool) error {
	retention, err := xrotate.ParseRetention(s.Retention)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	if retention.IsZero() {
		return usagef("sweep 需要保留策略（--retention 或配置 retention）")
	}
	namer, err := s.Namer(name)
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	if dryRun {
		archives, err := xrotate.ListArchives(dir, namer.Match)
		if err != nil {
			return err
		}
		for _, a := range retention.Expired(archives, now) {
			fmt.Fprintf(w, "would remove %s (%s, covered until %s)\n",
				a.Path, humanize.IBytes(uint64(max(a.Size, 0))), a.ModTime.Format(time.RFC3339))
		}
		return nil
	}

	removed, err := xrotate.Sweep(dir, namer.Match, retention, now)
	for _, p := range removed {
		fmt.Fprintf(w, "removed %s\n", p)
	}
	return err
}

// =============================================================================
// decompress
// =============================================================================

func createDecompressCommand() *cli.Command {
	return &cli.Command{
		Name:      "decompress",
		Usage:     "解压归档，压缩算法由扩展名推断",
		ArgsUsage: "<archive>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "输出文件，默认标准输出"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return usagef("decompress 需要且只需要一个归档路径")
			}
			return cmdDecompress(cmd.Root().Writer, cmd.Root().ErrWriter, cmd.Args().First(), cmd.String("output"))
		},
	}
}

func cmdDecompress(stdout, errOut io.Writer, archive, output string) (err error) {
	w := stdout
	if output != "" {
		var f *os.File
		f, err = os.Create(output) //#nosec G304 -- 调用方指定的输出路径
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, f.Close()) }()
		w = f
	}
	n, err := xrotate.Decompress(archive, w)
	if err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(errOut, "%s -> %s (%s)\n", archive, output, humanize.IBytes(uint64(max(n, 0))))
	}
	return nil
}

// =============================================================================
// watch
// =============================================================================

func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "把配置文件应用到 logger 并在文件变更时热更新",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "name", Aliases: []string{"n"}, Usage: "logger 名称，可重复", Required: true},
			&cli.DurationFlag{Name: "debounce", Usage: "防抖时间", Value: 100 * time.Millisecond},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return usagef("watch 需要且只需要一个配置文件")
			}
			return withRegistry(ctx, cmd.Root().ErrWriter, func(reg *xregistry.Registry) error {
				return cmdWatch(ctx, reg, cmd.Args().First(), cmd.StringSlice("name"), cmd.Duration("debounce"))
			})
		},
	}
}

// cmdWatch 应用配置并监视文件，直到 ctx 取消
//
// 每次重载后通过代理向各个 logger 写一条记录，结果由 logger 自身的输出体现。
func cmdWatch(ctx context.Context, reg *xregistry.Registry, path string, names []string, debounce time.Duration) error {
	cfg, err := loadConfig(reg, path, nil)
	if err != nil {
		return err
	}
	if _, err := cfg.ApplyTo(names...); err != nil {
		return err
	}
	resolver, err := xproxy.NewResolver(reg)
	if err != nil {
		return err
	}

	reloads := make(chan error, 8)
	w, err := cfg.Watch(path,
		xlogconf.WithDebounce(debounce),
		xlogconf.WithOnReload(func(err error) {
			select {
			case reloads <- err:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return w.Stop()
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-reloads:
				for _, name := range names {
					p := resolver.Proxy(name)
					if err != nil {
						p.Error(gctx, "config reload failed", xlog.Err(err), xlog.Path(path))
						continue
					}
					// 以新的最低级别记录，保证可见
					level := cfg.Settings().Level
					_ = p.Log(gctx, level, "config reloaded", xlog.Path(path), slog.String("level", level.String()))
				}
			}
		}
	})
	return g.Wait()
}
