package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Content    ContentConfig    `mapstructure:"content"`
	Business   BusinessConfig   `mapstructure:"business"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	ScoreUpdated   string `mapstructure:"score_updated"`
	EscrowEvents   string `mapstructure:"escrow_events"`
	ReconcileAlert string `mapstructure:"reconcile_alert"`
}

// SettlementConfig 链上结算后端配置
type SettlementConfig struct {
	RPCURL          string            `mapstructure:"rpc_url"`
	ChainID         int64             `mapstructure:"chain_id"`
	ContractAddress string            `mapstructure:"contract_address"`
	PrivateKey      string            `mapstructure:"private_key"`
	CallTimeoutSec  int               `mapstructure:"call_timeout_seconds"`
	Tokens          map[string]string `mapstructure:"tokens"` // 代币符号 -> 合约地址
}

// CallTimeout 外部结算调用超时，超时等同于调用失败
func (c *SettlementConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// ContentConfig 内容存储（IPFS）配置
type ContentConfig struct {
	APIURL         string `mapstructure:"api_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BusinessConfig struct {
	ReleaseAfterSeconds int `mapstructure:"release_after_seconds"` // 托管自动释放时间
	StuckOrderMinutes   int `mapstructure:"stuck_order_minutes"`   // 中间状态订单多久算卡住
	MaxRetryCount       int `mapstructure:"max_retry_count"`
}

// ScoringConfig 评分引擎配置
type ScoringConfig struct {
	Weights            map[string]float64      `mapstructure:"weights"` // 分析器权重
	AnalyzerTimeoutSec int                     `mapstructure:"analyzer_timeout_seconds"`
	Families           map[string]FamilyConfig `mapstructure:"families"`
}

// FamilyConfig 单个调度族的参数
type FamilyConfig struct {
	IntervalMinutes  int `mapstructure:"interval_minutes"`
	StalenessMinutes int `mapstructure:"staleness_minutes"`
	BatchSize        int `mapstructure:"batch_size"`
	Workers          int `mapstructure:"workers"`
}

// AnalyzerTimeout 单个分析器的执行超时，超时按失败处理
func (c *ScoringConfig) AnalyzerTimeout() time.Duration {
	if c.AnalyzerTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.AnalyzerTimeoutSec) * time.Second
}

func (f FamilyConfig) Interval() time.Duration {
	if f.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(f.IntervalMinutes) * time.Minute
}

func (f FamilyConfig) Staleness() time.Duration {
	if f.StalenessMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(f.StalenessMinutes) * time.Minute
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
