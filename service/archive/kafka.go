package archive

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	"XiaoChat/logger"
	"XiaoChat/service/chat"
	errs "XiaoChat/tools/errs"
)

// Conf Kafka 归档配置
type Conf struct {
	Brokers []string
	Topic   string
	Retries int
}

// Writer 异步把问答转写落到 Kafka；发送失败只记日志，
// 归档链路绝不阻塞会话。分区键取 conversation_id，保证同一
// 会话的转写进同一分区有序。
type Writer struct {
	prod  sarama.AsyncProducer
	topic string
	done  chan struct{}
}

func buildConfig(retries int) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	if retries <= 0 {
		retries = 3
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewWriter(c Conf) (*Writer, error) {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return nil, errs.New("kafka brokers or topic missing")
	}
	prod, err := sarama.NewAsyncProducer(c.Brokers, buildConfig(c.Retries))
	if err != nil {
		return nil, errs.WrapMsg(err, "new kafka producer")
	}
	w := &Writer{prod: prod, topic: c.Topic, done: make(chan struct{})}
	go w.drainErrors()
	return w, nil
}

func (w *Writer) drainErrors() {
	defer close(w.done)
	for perr := range w.prod.Errors() {
		logger.Warnf("[archive] produce failed topic=%s err=%v", w.topic, perr.Err)
	}
}

func (w *Writer) Archive(t chat.Transcript) {
	raw, err := json.Marshal(t)
	if err != nil {
		logger.Warnf("[archive] marshal transcript failed conv=%s err=%v", t.ConversationID, err)
		return
	}
	w.prod.Input() <- &sarama.ProducerMessage{
		Topic: w.topic,
		Key:   sarama.StringEncoder(t.ConversationID),
		Value: sarama.ByteEncoder(raw),
	}
}

func (w *Writer) Close() {
	w.prod.AsyncClose()
	<-w.done
}
