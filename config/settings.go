package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Settings 服务全量配置；来源为环境变量（可选 .env）
type Settings struct {
	// 服务器配置
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8000"`

	// 节点标识
	NodeID     int64  `envconfig:"NODE_ID" default:"1"`
	GatewayID  string `envconfig:"GATEWAY_ID" default:"xiaochat-1"`
	JWTSecret  string `envconfig:"JWT_SECRET" default:""`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`

	// 上游服务
	ASRURI    string `envconfig:"ASR_URI" default:"ws://localhost:8001"`
	TTSURI    string `envconfig:"TTS_URI" default:"ws://localhost:8002"`
	LLMAPIURL string `envconfig:"LLM_API_URL" default:"http://localhost:8003"`
	LLMAPIKey string `envconfig:"LLM_API_KEY" default:""`

	// 重连配置
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"3"`
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"1s"`

	// WebSocket 配置
	WSReceiveTimeout time.Duration `envconfig:"WS_RECEIVE_TIMEOUT" default:"60s"`
	WSWriteTimeout   time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	WSPingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"20s"`

	// 上游调用超时
	ServiceTimeout time.Duration `envconfig:"SERVICE_TIMEOUT" default:"10s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// 会话管理配置
	SessionTimeout  time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	ResponseTimeout time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"90s"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"5m"`
	MaxPerDevice    int           `envconfig:"MAX_PER_DEVICE" default:"0"`

	// 出站队列
	SendQueueSize   int    `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	DropPolicy      string `envconfig:"DROP_POLICY" default:"newest"` // newest | oldest
	FanoutWorkers   int    `envconfig:"FANOUT_WORKERS" default:"8"`
	FanoutQueueSize int    `envconfig:"FANOUT_QUEUE_SIZE" default:"1024"`

	// Redis（在线状态）
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// NATS（遥测事件）
	NatsServers string `envconfig:"NATS_SERVERS" default:""`

	// Kafka（会话转写归档）
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"xiaochat.transcripts"`
}

// Load 读取 .env（存在才加载）并解析环境变量
func Load() (*Settings, error) {
	s := &Settings{}
	_ = godotenv.Load() // .env 缺失不算错误
	if err := envconfig.Process("", s); err != nil {
		return nil, err
	}
	return s, nil
}
