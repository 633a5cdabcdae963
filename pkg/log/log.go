// Package log 是全局 zap SugaredLogger 的薄封装。
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 在 Init 之前是一个空实现，单元测试无需初始化日志。
var sugar atomic.Pointer[zap.SugaredLogger]

func init() {
	sugar.Store(zap.NewNop().Sugar())
}

func s() *zap.SugaredLogger { return sugar.Load() }

// Options 控制日志的级别、格式和输出位置。
type Options struct {
	Level  string
	Format string // json | console
	// Dir 非空时额外写入 Dir/finqa.log。
	Dir string
	// Stderr 为 true 时写 stderr 而不是 stdout，命令行工具使用。
	Stderr bool
}

// Init 按服务端的习惯初始化：console 格式带颜色，其余为 json。
func Init(level, format, outputPath string) {
	if err := Setup(Options{Level: level, Format: format, Dir: outputPath}); err != nil {
		panic(err)
	}
}

// Setup 构建 logger 并替换全局实例。
func Setup(opts Options) error {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if opts.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}
	zapConfig.Level = logLevel

	sink := "stdout"
	if opts.Stderr {
		sink = "stderr"
	}
	zapConfig.OutputPaths = []string{sink}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(opts.Dir, "finqa.log"))
	}

	logger, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("构建 logger 失败: %w", err)
	}
	sugar.Store(logger.Sugar())
	return nil
}

// Info 记录一条 info 级别的日志
func Info(msg string) {
	s().Info(msg)
}

// Infof 使用格式化字符串记录一条 info 级别的日志
func Infof(template string, args ...interface{}) {
	s().Infof(template, args...)
}

// Infow 使用键值对记录一条结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	s().Infow(msg, keysAndValues...)
}

func Debugf(template string, args ...interface{}) {
	s().Debugf(template, args...)
}

func Warnf(template string, args ...interface{}) {
	s().Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	s().Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 信息
func Error(msg string, err error) {
	s().Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	s().Errorf(template, args...)
}

// Fatal 记录日志后退出程序。
func Fatal(msg string, err error) {
	s().Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	s().Fatalf(template, args...)
}

// Sync 刷新缓冲的日志。
func Sync() {
	_ = s().Sync()
}
