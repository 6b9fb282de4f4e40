package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"XiaoChat/config"
	"XiaoChat/logger"
	"XiaoChat/middleware"
	"XiaoChat/service/archive"
	"XiaoChat/service/chat"
	"XiaoChat/service/chat/handlers"
	"XiaoChat/service/llm"
	"XiaoChat/service/speech"
	"XiaoChat/service/storage"
	"XiaoChat/service/telemetry"
	"XiaoChat/tools/ids"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.LogLevel)
	defer logger.Sync()

	if err := ids.SetNodeID(cfg.NodeID); err != nil {
		logger.Errorf("[main] bad node id %d: %v", cfg.NodeID, err)
		os.Exit(1)
	}

	// ---- 事件观测 ----
	var events chat.EventSink = telemetry.LogSink{}
	var bus *telemetry.Bus
	if cfg.NatsServers != "" {
		bus, err = telemetry.NewBus(telemetry.BusConfig{
			Servers: strings.Split(cfg.NatsServers, ","),
			Name:    cfg.GatewayID,
		})
		if err != nil {
			logger.Warnf("[main] nats unavailable, events go to log only: %v", err)
		} else {
			events = telemetry.MultiSink{telemetry.LogSink{}, bus}
			defer bus.Close()
		}
	}

	// ---- 在线状态 ----
	var presence chat.PresenceStore = chat.NopPresence{}
	if cfg.RedisAddr != "" {
		rdb, rerr := storage.NewRedis(storage.RedisConf{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if rerr != nil {
			logger.Warnf("[main] redis unavailable, presence disabled: %v", rerr)
		} else {
			presence = storage.NewPresence(rdb, cfg.SessionTimeout)
			defer rdb.Close()
		}
	}

	// ---- 转写归档 ----
	var transcripts chat.TranscriptSink = chat.NopTranscripts{}
	if cfg.KafkaBrokers != "" {
		w, werr := archive.NewWriter(archive.Conf{
			Brokers: strings.Split(cfg.KafkaBrokers, ","),
			Topic:   cfg.KafkaTopic,
		})
		if werr != nil {
			logger.Warnf("[main] kafka unavailable, transcripts discarded: %v", werr)
		} else {
			transcripts = w
			defer w.Close()
		}
	}

	// ---- 上游 ----
	rc := speech.ReconnectConf{MaxAttempts: cfg.ReconnectAttempts, Delay: cfg.ReconnectDelay}
	asr := speech.NewRecognizer(cfg.ASRURI, rc)
	tts := speech.NewSpeaker(cfg.TTSURI, rc)
	defer asr.Close()
	defer tts.Close()
	brain := llm.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.RequestTimeout)

	var secret []byte
	if cfg.JWTSecret != "" {
		secret = []byte(cfg.JWTSecret)
	}
	srv := chat.NewServer(chat.ServerConf{
		GatewayID:       cfg.GatewayID,
		JWTSecret:       secret,
		ReceiveTimeout:  cfg.WSReceiveTimeout,
		WriteTimeout:    cfg.WSWriteTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
		ServiceTimeout:  cfg.ServiceTimeout,
		SessionTTL:      cfg.SessionTimeout,
		SweepEvery:      cfg.CleanupInterval,
		MaxPerDevice:    cfg.MaxPerDevice,
		EvictOldest:     true,
		SendQueueSize:   cfg.SendQueueSize,
		DropPolicy:      chat.ParseDropPolicy(cfg.DropPolicy),
		FanoutWorkers:   cfg.FanoutWorkers,
		FanoutQueue:     cfg.FanoutQueueSize,
	}, asr, tts, brain, transcripts, presence, events)

	registerHandlers(srv)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(), middleware.DeviceHeaders())
	srv.Routes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if serr := srv.Start(addr, r); serr != nil {
			logger.Errorf("[main] server exited: %v", serr)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[main] signal received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		logger.Errorf("[main] shutdown: %v", serr)
	}
}

func registerHandlers(s *chat.Server) {
	s.Disp().Register(handlers.HelloHandler{})
	s.Disp().Register(handlers.StateHandler{})
	s.Disp().Register(handlers.AbortHandler{})
	s.Disp().Register(handlers.PingHandler{})
	s.Disp().Register(handlers.ChatHandler{})
	s.Disp().Register(handlers.JoinHandler{})
	s.Disp().Register(handlers.LeaveHandler{})
}
