package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhukovaskychina/xmysql-index/logger"

	"github.com/zhukovaskychina/xmysql-index/server/conf"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/engine"
)

const help = `
******************************************************************************************
 xindex: transactional on-disk hash and multi-value B+tree indexes
******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定xindex.ini或xindex.toml配置文件
*3. -- check        打开数据目录并完成恢复后退出
******************************************************************************************
`

func main() {
	var (
		configPath string
		checkOnly  bool
		showHelp   bool
	)
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.BoolVar(&checkOnly, "check", false, "恢复后立即退出")
	flag.BoolVar(&showHelp, "help", false, "显示帮助")
	flag.Parse()
	if showHelp {
		fmt.Print(help)
		return
	}

	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	logger.Infof("logger initialized with level %s", config.LogLevel)

	e, err := engine.Open(config)
	if err != nil {
		logger.Fatalf("open storage engine: %v", err)
	}
	stats := e.Stats()
	logger.Infof("storage engine ready, last lsn %d", stats.LastLSN)

	if !checkOnly {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logger.Infof("received %s, shutting down", s)
	}
	if err := e.Close(); err != nil {
		logger.Errorf("close storage engine: %v", err)
		os.Exit(1)
	}
}
