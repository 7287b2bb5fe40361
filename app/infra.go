package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/MathisDulieu/Booking-sub000/config"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/mail"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/memory"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/natsjetstream"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/rabbitmq"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/redisstreams"
	"github.com/MathisDulieu/Booking-sub000/patterns/retry"
	"github.com/MathisDulieu/Booking-sub000/storage/database"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
)

// connectRetry 连接外部代理的重试策略，覆盖容器编排中代理晚于服务就绪的情况
var connectRetry = retry.Config{
	MaxAttempts:   8,
	InitialDelay:  250 * time.Millisecond,
	BackoffFactor: 2,
	MaxDelay:      5 * time.Second,
}

// NewBroker 按配置创建消息代理
func NewBroker(ctx context.Context, cfg *config.Config, logger logging.Logger) (messaging.Broker, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	bc := cfg.Broker
	brokerLogger := logger.WithFields(logging.String("component", "broker."+bc.Kind))

	if bc.Kind == config.BrokerMemory {
		return memory.NewBroker(bc.QueueSize).WithLogger(brokerLogger), nil
	}

	var broker messaging.Broker
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		var err error
		switch bc.Kind {
		case config.BrokerAMQP:
			broker, err = rabbitmq.Dial(rabbitmq.Config{URL: bc.URL, Prefetch: bc.Prefetch, Logger: brokerLogger})
		case config.BrokerNATS:
			broker, err = natsjetstream.Connect(natsjetstream.Config{URL: bc.URL, Logger: brokerLogger})
		case config.BrokerRedis:
			broker, err = redisstreams.NewBroker(redisstreams.Config{
				Addr:      bc.Redis.Addr,
				Password:  bc.Redis.Password,
				DB:        bc.Redis.DB,
				ClaimIdle: 30 * time.Second,
				Logger:    brokerLogger,
			})
		default:
			return fmt.Errorf("unknown broker kind %q", bc.Kind)
		}
		if err != nil {
			logger.Warn(ctx, "broker connect failed",
				logging.String("kind", bc.Kind),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}, connectRetry)
	if err != nil {
		return nil, fmt.Errorf("connect %s broker: %w", bc.Kind, err)
	}
	return broker, nil
}

// OpenStore 按配置打开文档存储
func OpenStore(ctx context.Context, cfg config.StoreConfig) (document.Store, error) {
	if cfg.Driver == config.StoreMemory {
		return document.NewMemoryStore(), nil
	}
	return document.OpenSQLStore(ctx, database.Config{Driver: cfg.Driver, DSN: cfg.DSN})
}

// NewMailer 按配置创建邮件发送器
func NewMailer(cfg config.MailConfig, logger logging.Logger) (mail.Mailer, error) {
	switch cfg.Kind {
	case config.MailSMTP:
		var opts []mail.SMTPOption
		if cfg.Username != "" {
			host, _, err := net.SplitHostPort(cfg.SMTPAddr)
			if err != nil {
				return nil, fmt.Errorf("mail.smtp_addr: %w", err)
			}
			opts = append(opts, mail.WithPlainAuth(cfg.Username, cfg.Password, host))
		}
		return mail.NewSMTPMailer(cfg.SMTPAddr, cfg.From, opts...), nil
	default:
		return mail.NewLogMailer(logger), nil
	}
}

// NewLogger 按配置构建 zap 日志器
func NewLogger(cfg config.LogConfig) (*logging.ZapLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewZapLogger(level, cfg.Format)
}
