package xrotate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec 归档压缩算法
type Codec interface {
	// Name 规范名称，如 "gz"
	Name() string
	// Ext 归档扩展名（含点），不压缩时为空
	Ext() string
	// NewWriter 包装压缩输出，Close 负责写入尾部但不关闭 w
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader 包装解压输入
	NewReader(r io.Reader) (io.ReadCloser, error)
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }
func (noneCodec) Ext() string  { return "" }
func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}
func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gz" }
func (gzipCodec) Ext() string  { return ".gz" }
func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}
func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zst" }
func (zstdCodec) Ext() string  { return ".zst" }
func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}
func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }
func (lz4Codec) Ext() string  { return ".lz4" }
func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type brotliCodec struct{}

func (brotliCodec) Name() string { return "br" }
func (brotliCodec) Ext() string  { return ".br" }
func (brotliCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
}
func (brotliCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

// codecs 名称（含别名）到算法的映射
var codecs = map[string]Codec{
	"":       noneCodec{},
	"none":   noneCodec{},
	"gz":     gzipCodec{},
	"gzip":   gzipCodec{},
	"zst":    zstdCodec{},
	"zstd":   zstdCodec{},
	"lz4":    lz4Codec{},
	"br":     brotliCodec{},
	"brotli": brotliCodec{},
}

// LookupCodec 按名称查找压缩算法（大小写不敏感）
//
// 空字符串与 "none" 返回不压缩的实现。未知名称返回 [ErrUnknownCompression]。
func LookupCodec(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownCompression, name, strings.Join(CodecNames(), ", "))
	}
	return c, nil
}

// CodecNames 返回所有规范名称（不含别名），按字母序
func CodecNames() []string {
	seen := make(map[string]struct{})
	for _, c := range codecs {
		seen[c.Name()] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// codecForPath 按扩展名推断压缩算法，未识别的扩展名视为不压缩
func codecForPath(path string) Codec {
	ext := filepath.Ext(path)
	for _, c := range codecs {
		if c.Ext() != "" && c.Ext() == ext {
			return c
		}
	}
	return noneCodec{}
}

// CompressFile 以 codec 压缩 src 写入 dst
//
// dst 以排他方式创建，失败时删除不完整的 dst。src 不会被删除。
func CompressFile(src, dst string, codec Codec, mode os.FileMode) (err error) {
	in, err := os.Open(src) //#nosec G304 -- 路径由轮转器内部生成
	if err != nil {
		return err
	}
	defer in.Close()

	if mode == 0 {
		mode = defaultFileMode
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode) //#nosec G304 -- 同上
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw, err := codec.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if _, err = io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		return err
	}
	if err = zw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Decompress 把归档内容解压写入 w，压缩算法由扩展名推断
func Decompress(path string, w io.Writer) (int64, error) {
	f, err := os.Open(path) //#nosec G304 -- 调用方指定的归档路径
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zr, err := codecForPath(path).NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("xrotate: open %s: %w", filepath.Base(path), err)
	}
	n, copyErr := io.Copy(w, zr)
	return n, errors.Join(copyErr, zr.Close())
}
