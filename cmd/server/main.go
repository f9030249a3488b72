package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/app/bootstrap"
	cfgpkg "github.com/thermline/hpfleet/internal/config"
	"github.com/thermline/hpfleet/internal/logging"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (default: HPF_CONFIG or configs/example.yaml)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 启动
	if err := bootstrap.Run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
