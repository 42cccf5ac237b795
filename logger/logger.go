package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置，路径为空时只输出到终端
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

var (
	// infoLog 承载debug到warn级别，errorLog承载error和fatal
	infoLog  *logrus.Logger
	errorLog *logrus.Logger
)

func init() {
	_ = InitLogger(LogConfig{LogLevel: "warn"})
}

// lineFormatter 单行输出: [时间] [级别] (文件:函数:行) 消息 k=v...
type lineFormatter struct{}

func (lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	fmt.Fprintf(&b, "[%s] [%s] (%s) %s", entry.Time.Format("15:04:05 MST 2006/01/02"), level, caller(), entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// caller 第一个不属于logrus和本包的栈帧
func caller() string {
	pcs := make([]uintptr, 16)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "sirupsen/logrus") && !strings.HasSuffix(f.File, "/logger/logger.go") {
			return fmt.Sprintf("%s:%s:%d", filepath.Base(f.File), f.Function, f.Line)
		}
		if !more {
			return "unknown:unknown:0"
		}
	}
}

// InitLogger 按配置重建日志器。日志文件打不开时退回到终端输出。
func InitLogger(config LogConfig) error {
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	infoLog = newLogger(level, os.Stdout, config.InfoLogPath)
	errorLog = newLogger(level, os.Stderr, config.ErrorLogPath)
	return nil
}

func newLogger(level logrus.Level, console io.Writer, path string) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(lineFormatter{})
	l.SetOutput(console)
	if path == "" {
		return l
	}
	f, err := openLogFile(path)
	if err != nil {
		l.Warnf("open log file %s: %v, logging to console only", path, err)
		return l
	}
	l.SetOutput(io.MultiWriter(console, f))
	return l
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// SetOutput 所有级别写到同一个writer，测试用
func SetOutput(w io.Writer) {
	infoLog.SetOutput(w)
	errorLog.SetOutput(w)
}

// WithFields 带结构化字段的entry，按级别写入info日志
func WithFields(fields logrus.Fields) *logrus.Entry {
	return infoLog.WithFields(fields)
}

func Debugf(format string, args ...interface{}) {
	infoLog.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	infoLog.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	infoLog.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	errorLog.Errorf(format, args...)
}

// Fatalf 写入错误日志后退出进程
func Fatalf(format string, args ...interface{}) {
	errorLog.Fatalf(format, args...)
}
