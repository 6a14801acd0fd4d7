package xlog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
)

func TestSettings_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		s     xlog.Settings
		field string
		cause error
	}{
		{"未知格式", xlog.Settings{Format: "xml"}, "logger_format", xlog.ErrUnknownFormat},
		{"非法轮转", xlog.Settings{Rotation: "sometimes"}, "rotation", xrotate.ErrInvalidRotation},
		{"零大小轮转", xlog.Settings{Rotation: "0 MB"}, "rotation", xrotate.ErrInvalidRotation},
		{"非法保留", xlog.Settings{Retention: "forever-ish"}, "retention", xrotate.ErrInvalidRetention},
		{"未知压缩", xlog.Settings{Compression: "rar"}, "compression", xrotate.ErrUnknownCompression},
		{"命名模板含路径分隔符", xlog.Settings{CompressionFormat: "../{name}"}, "compression_format", xrotate.ErrInvalidTemplate},
		{"子目录越界", xlog.Settings{LogPath: dir, Subdirectory: "../escape"}, "subdirectory", nil},
		{"原生模式不支持时间轮转", xlog.Settings{LogPath: dir, Rotation: "1 day", Retention: "3 files", Native: true}, "native", xrotate.ErrNativeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			require.ErrorIs(t, err, xlog.ErrInvalidSetting)
			var se *xlog.SettingError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestSettings_ValidateAccepts(t *testing.T) {
	valid := []xlog.Settings{
		xlog.DefaultSettings(),
		{},
		{Format: "JSON"},
		{LogPath: t.TempDir(), Rotation: "20 MB", Retention: "30 days", Compression: "zstd"},
		{LogPath: t.TempDir(), Rotation: "1 day", Retention: "7 days, 10 files", CompressionFormat: "[{name}]{date}"},
		{LogPath: t.TempDir(), Rotation: "10 MB", Retention: "5 files", Compression: "gz", Native: true},
		// 原生模式只在有文件输出时校验
		{Rotation: "1 day", Native: true},
	}
	for i, s := range valid {
		assert.NoError(t, s.Validate(), "case %d", i)
	}
}

func TestSettings_LogFile(t *testing.T) {
	path, err := xlog.Settings{}.LogFile("app")
	require.NoError(t, err)
	assert.Empty(t, path, "无 LogPath 时只输出控制台")

	dir := t.TempDir()
	path, err = xlog.Settings{LogPath: dir}.LogFile("app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.log"), path)

	path, err = xlog.Settings{LogPath: dir, Subdirectory: "svc/api"}.LogFile("worker")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc", "api", "worker.log"), path)

	_, err = xlog.Settings{LogPath: dir}.LogFile("   ")
	assert.ErrorIs(t, err, xlog.ErrEmptyName)
}

func TestSettings_Clone(t *testing.T) {
	s := xlog.Settings{Level: xlog.LevelDebug, Extra: map[string]any{"env": "prod"}}
	c := s.Clone()
	c.Extra["env"] = "dev"
	c.Level = xlog.LevelError

	assert.Equal(t, "prod", s.Extra["env"], "Extra 不共享")
	assert.Equal(t, xlog.LevelDebug, s.Level)

	assert.Nil(t, xlog.Settings{}.Clone().Extra)
}

func TestSettings_Namer(t *testing.T) {
	n, err := xlog.Settings{Rotation: "daily", Compression: "gz"}.Namer("app")
	require.NoError(t, err)
	assert.Equal(t, "app", n.Name())
	assert.Equal(t, ".gz", n.Codec().Ext())

	_, err = xlog.Settings{Rotation: "bogus"}.Namer("app")
	assert.ErrorIs(t, err, xlog.ErrInvalidSetting)
}
