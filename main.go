package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"meerkat/cache"
	"meerkat/chart"
	"meerkat/config"
	"meerkat/marketdata"
	"meerkat/utils/log"
	"meerkat/webserver"
)

func main() {
	// 1) 설정 로드 (파일 없으면 기본값 + 환경변수)
	cfgPath := os.Getenv("MEERKAT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// 2) 데이터 클라이언트 + 캐시
	client := marketdata.NewClient(
		cfg.Data.BaseURL,
		cfg.Data.StreamURL,
		cfg.Data.AccessKey,
		cfg.Data.SecretKey,
		time.Duration(cfg.Data.TimeoutSec)*time.Second,
		cfg.Data.RetryCount,
	)
	store := cache.NewStore(client.Snapshot)

	// 3) 웹서버(렌더 표면) + 컨트롤러
	server := webserver.NewWebServer(cfg.Chart.PaneWidth, cfg.Chart.PaneHeight)
	ctrl := chart.NewController(chart.Options{
		Symbol:             cfg.Chart.Symbol,
		Timeframe:          cfg.Chart.Timeframe,
		Lookback:           cfg.Chart.Lookback,
		WarmTimeframes:     cfg.Chart.WarmTimeframes,
		RefreshInterval:    time.Duration(cfg.Chart.RefreshIntervalSec) * time.Second,
		MarketPollInterval: time.Duration(cfg.Chart.MarketPollSec) * time.Second,
	}, client, store, server)
	server.AttachController(ctrl)

	// 4) Start
	ctrl.Start()
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			log.Fatal(err)
		}
	}()

	// 5) OS 시그널 대기 (Graceful Stop)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Infof("Shutting down gracefully...")

	// 6) Stop
	if err := server.Shutdown(); err != nil {
		log.Errorf("webserver shutdown: %v", err)
	}
	ctrl.Stop()
	client.Stop()
	time.Sleep(1 * time.Second)
	log.Infof("Shutdown complete.")
}
