package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Load 解析命令行并按 文件 < 环境变量 < 参数 的优先级构建配置
//
// service 为进程默认角色，可被配置覆盖。
func Load(service string, args []string) (*Config, error) {
	return load(service, args, os.LookupEnv)
}

func load(service string, args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	cfg.Service = service

	fs := pflag.NewFlagSet(service, pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to a YAML or TOML config file")
	overrides := Default()
	fs.StringVar(&overrides.Broker.Kind, "broker", "", "broker kind: memory, amqp, nats or redis")
	fs.StringVar(&overrides.Broker.URL, "broker-url", "", "AMQP or NATS server URL")
	fs.StringVar(&overrides.Broker.Redis.Addr, "redis-addr", "", "Redis address for the redis broker")
	fs.DurationVar(&overrides.RPC.Timeout, "rpc-timeout", 0, "default RPC call timeout")
	fs.IntVar(&overrides.RPC.Workers, "workers", 0, "concurrent deliveries per listener")
	fs.StringVar(&overrides.RPC.Codec, "codec", "", "request codec: json or cbor")
	fs.StringVar(&overrides.Store.DSN, "store-dsn", "", "sqlite data source name")
	fs.StringVar(&overrides.HTTP.Addr, "http-addr", "", "gateway listen address")
	fs.StringVar(&overrides.Log.Level, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&overrides.Log.Format, "log-format", "", "json or console")
	fs.Int64Var(&overrides.IDs.Worker, "worker-id", 0, "snowflake worker id")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		if err := LoadFile(*path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	set := map[string]func(){
		"broker":      func() { cfg.Broker.Kind = overrides.Broker.Kind },
		"broker-url":  func() { cfg.Broker.URL = overrides.Broker.URL },
		"redis-addr":  func() { cfg.Broker.Redis.Addr = overrides.Broker.Redis.Addr },
		"rpc-timeout": func() { cfg.RPC.Timeout = overrides.RPC.Timeout },
		"workers":     func() { cfg.RPC.Workers = overrides.RPC.Workers },
		"codec":       func() { cfg.RPC.Codec = overrides.RPC.Codec },
		"store-dsn":   func() { cfg.Store.DSN = overrides.Store.DSN },
		"http-addr":   func() { cfg.HTTP.Addr = overrides.HTTP.Addr },
		"log-level":   func() { cfg.Log.Level = overrides.Log.Level },
		"log-format":  func() { cfg.Log.Format = overrides.Log.Format },
		"worker-id":   func() { cfg.IDs.Worker = overrides.IDs.Worker },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
