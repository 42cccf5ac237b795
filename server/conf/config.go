package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xmysql-index/logger"
)

type CommandLineArgs struct {
	ConfigPath string
}

/*
[storage]
data_dir         = data
page_size        = 16384
buffer_pool_size = 134217728
redo_log_dir     = redo

[index]
hash_merge_threshold = 0.25

[logs]
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// storage
	DataDir          string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	PageSize         int    `default:"16384" yaml:"page_size" json:"page_size,omitempty"`
	BufferPoolSize   int    `default:"134217728" yaml:"buffer_pool_size" json:"buffer_pool_size,omitempty"`
	RedoLogEnabled   bool   `default:"true" yaml:"redo_log_enabled" json:"redo_log_enabled,omitempty"`
	RedoLogDir       string `default:"redo" yaml:"redo_log_dir" json:"redo_log_dir,omitempty"`
	SyncOnCommit     bool   `default:"true" yaml:"sync_on_commit" json:"sync_on_commit,omitempty"`
	FlushParallelism int    `default:"4" yaml:"flush_parallelism" json:"flush_parallelism,omitempty"`

	// index
	HashMergeThreshold float64 `default:"0.25" yaml:"hash_merge_threshold" json:"hash_merge_threshold,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

const (
	MinPageSize = 4096
	MaxPageSize = 65536
)

func NewCfg() *Cfg {
	return &Cfg{
		Raw:                ini.Empty(),
		DataDir:            "data",
		PageSize:           16384,
		BufferPoolSize:     134217728, // 128MB
		RedoLogEnabled:     true,
		RedoLogDir:         "redo",
		SyncOnCommit:       true,
		FlushParallelism:   4,
		HashMergeThreshold: 0.25,
		LogLevel:           "info",
	}
}

// Load 按扩展名加载ini或toml配置，文件不存在时使用默认值
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	configFile := "conf/xindex.ini"
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return cfg, cfg.Validate()
	}

	var err error
	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		err = cfg.loadToml(configFile)
	} else {
		err = cfg.loadIni(configFile)
	}
	if err != nil {
		return nil, err
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return cfg, cfg.Validate()
}

func (cfg *Cfg) loadIni(configFile string) error {
	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return errors.Wrapf(err, "parse config %s", configFile)
	}
	cfg.Raw = parsedFile
	cfg.parseStorageCfg(cfg.Raw.Section("storage"))
	cfg.parseIndexCfg(cfg.Raw.Section("index"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return nil
}

func (cfg *Cfg) loadToml(configFile string) error {
	tree, err := toml.LoadFile(configFile)
	if err != nil {
		return errors.Wrapf(err, "parse config %s", configFile)
	}
	cfg.DataDir = tomlString(tree, "storage.data_dir", cfg.DataDir)
	cfg.PageSize = tomlInt(tree, "storage.page_size", cfg.PageSize)
	cfg.BufferPoolSize = tomlInt(tree, "storage.buffer_pool_size", cfg.BufferPoolSize)
	cfg.RedoLogEnabled = tomlBool(tree, "storage.redo_log_enabled", cfg.RedoLogEnabled)
	cfg.RedoLogDir = tomlString(tree, "storage.redo_log_dir", cfg.RedoLogDir)
	cfg.SyncOnCommit = tomlBool(tree, "storage.sync_on_commit", cfg.SyncOnCommit)
	cfg.FlushParallelism = tomlInt(tree, "storage.flush_parallelism", cfg.FlushParallelism)
	cfg.HashMergeThreshold = tomlFloat(tree, "index.hash_merge_threshold", cfg.HashMergeThreshold)
	cfg.LogError = tomlString(tree, "logs.log_error", cfg.LogError)
	cfg.LogInfos = tomlString(tree, "logs.log_infos", cfg.LogInfos)
	cfg.LogLevel = normalizeLogLevel(tomlString(tree, "logs.log_level", cfg.LogLevel))
	return nil
}

func tomlString(tree *toml.Tree, key string, def string) string {
	if v, ok := tree.Get(key).(string); ok && v != "" {
		return v
	}
	return def
}

func tomlInt(tree *toml.Tree, key string, def int) int {
	if v, ok := tree.Get(key).(int64); ok {
		return int(v)
	}
	return def
}

func tomlBool(tree *toml.Tree, key string, def bool) bool {
	if v, ok := tree.Get(key).(bool); ok {
		return v
	}
	return def
}

func tomlFloat(tree *toml.Tree, key string, def float64) float64 {
	switch v := tree.Get(key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return def
}

// Validate 校验配置取值范围
func (cfg *Cfg) Validate() error {
	if cfg.PageSize < MinPageSize || cfg.PageSize > MaxPageSize {
		return errors.Errorf("page_size %d out of range [%d, %d]", cfg.PageSize, MinPageSize, MaxPageSize)
	}
	if cfg.BufferPoolSize < cfg.PageSize*16 {
		return errors.Errorf("buffer_pool_size %d must hold at least 16 pages", cfg.BufferPoolSize)
	}
	if cfg.HashMergeThreshold < 0 || cfg.HashMergeThreshold >= 0.5 {
		return errors.Errorf("hash_merge_threshold %.2f out of range [0, 0.5)", cfg.HashMergeThreshold)
	}
	if cfg.FlushParallelism < 1 {
		cfg.FlushParallelism = 1
	}
	return nil
}

// BufferPoolPages 缓冲池可容纳的页面数
func (cfg *Cfg) BufferPoolPages() int {
	return cfg.BufferPoolSize / cfg.PageSize
}

// RedoLogPath 重做日志目录，相对路径基于数据目录
func (cfg *Cfg) RedoLogPath() string {
	if filepath.IsAbs(cfg.RedoLogDir) {
		return cfg.RedoLogDir
	}
	return filepath.Join(cfg.DataDir, cfg.RedoLogDir)
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil {
		return defaultValue
	}
	value := section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value
}

// GetString 获取配置项的字符串值
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return ""
	}
	return valueAsString(cfg.Raw.Section(parts[0]), strings.Join(parts[1:], "."), "")
}

// GetInt 获取配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).MustInt(0)
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.DataDir = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.BufferPoolSize = section.Key("buffer_pool_size").MustInt(cfg.BufferPoolSize)
	cfg.RedoLogEnabled = section.Key("redo_log_enabled").MustBool(cfg.RedoLogEnabled)
	cfg.RedoLogDir = valueAsString(section, "redo_log_dir", cfg.RedoLogDir)
	cfg.SyncOnCommit = section.Key("sync_on_commit").MustBool(cfg.SyncOnCommit)
	cfg.FlushParallelism = section.Key("flush_parallelism").MustInt(cfg.FlushParallelism)
	return cfg
}

func (cfg *Cfg) parseIndexCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.HashMergeThreshold = section.Key("hash_merge_threshold").MustFloat64(cfg.HashMergeThreshold)
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel = normalizeLogLevel(valueAsString(section, "log_level", cfg.LogLevel))
	return cfg
}

func normalizeLogLevel(logLevel string) string {
	level := strings.ToLower(logLevel)
	switch level {
	case "debug", "info", "warn", "error", "fatal", "panic":
		return level
	}
	logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'", logLevel)
	return "info"
}
