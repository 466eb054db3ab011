// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host string `yaml:"host"` // 服务器监听地址
	Port int    `yaml:"port"` // 服务器监听端口
}

// GeminiConfig 语音模型上游配置
type GeminiConfig struct {
	APIKey             string `yaml:"api_key"`             // API密钥，为空时读取环境变量GEMINI_API_KEY
	Host               string `yaml:"host"`                // 上游服务器地址
	Model              string `yaml:"model"`               // 模型名称
	Voice              string `yaml:"voice"`               // 语音名称
	MediaResolution    string `yaml:"media_resolution"`    // 媒体分辨率
	InputSampleRate    int    `yaml:"input_sample_rate"`   // 输入音频采样率
	OutputSampleRate   int    `yaml:"output_sample_rate"`  // 模型输出音频采样率
	CompressionTrigger int    `yaml:"compression_trigger"` // 上下文压缩触发token数
	CompressionTarget  int    `yaml:"compression_target"`  // 上下文压缩目标token数
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize int           `yaml:"write_buffer_size"` // 写缓冲区大小
	PingPeriod      time.Duration `yaml:"ping_period"`       // 心跳间隔
	PongWait        time.Duration `yaml:"pong_wait"`         // 等待Pong响应的超时时间
}

// SessionConfig 会话生命周期配置
type SessionConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`       // 空闲超时时间，0表示禁用
	FinalTurnTimeout time.Duration `yaml:"final_turn_timeout"` // 会话结束时等待最后一轮的超时时间
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`  // 空闲检查间隔
}

var globalConfig *Config

// GetConfig 获取全局配置实例
func GetConfig() *Config {
	return globalConfig
}

// Load 从文件加载配置
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	setDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// 设置全局配置
	globalConfig = &config

	return &config, nil
}

// Default 返回带默认值的配置，供测试和工具使用
func Default() *Config {
	config := &Config{}
	config.Server.Host = "0.0.0.0"
	config.Server.Port = 8080
	setDefaults(config)
	return config
}

// setDefaults 填充默认配置
func setDefaults(config *Config) {
	if config.Gemini.APIKey == "" {
		config.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if config.Gemini.Host == "" {
		config.Gemini.Host = "generativelanguage.googleapis.com"
	}
	if config.Gemini.Model == "" {
		config.Gemini.Model = "models/gemini-2.0-flash-exp"
	}
	if config.Gemini.Voice == "" {
		config.Gemini.Voice = "Puck"
	}
	if config.Gemini.MediaResolution == "" {
		config.Gemini.MediaResolution = "MEDIA_RESOLUTION_MEDIUM"
	}
	if config.Gemini.InputSampleRate == 0 {
		config.Gemini.InputSampleRate = 44100 // 浏览器麦克风默认采样率
	}
	if config.Gemini.OutputSampleRate == 0 {
		config.Gemini.OutputSampleRate = 24000 // 模型输出固定24kHz
	}
	if config.Gemini.CompressionTrigger == 0 {
		config.Gemini.CompressionTrigger = 25600
	}
	if config.Gemini.CompressionTarget == 0 {
		config.Gemini.CompressionTarget = 12800
	}
	if config.WebSocket.ReadBufferSize == 0 {
		config.WebSocket.ReadBufferSize = 16384 // 需要容纳音频帧
	}
	if config.WebSocket.WriteBufferSize == 0 {
		config.WebSocket.WriteBufferSize = 16384
	}
	if config.WebSocket.PingPeriod == 0 {
		config.WebSocket.PingPeriod = 30 * time.Second
	}
	if config.WebSocket.PongWait == 0 {
		config.WebSocket.PongWait = 60 * time.Second
	}
	if config.Session.IdleTimeout == 0 {
		config.Session.IdleTimeout = 120 * time.Second
	}
	if config.Session.FinalTurnTimeout == 0 {
		config.Session.FinalTurnTimeout = 10 * time.Second
	}
	if config.Session.WatchdogInterval == 0 {
		config.Session.WatchdogInterval = 10 * time.Second
	}
}

// validateConfig 验证配置是否有效
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Host == "" {
		return ErrEmptyServerHost
	}
	if config.Server.Port <= 0 {
		return ErrInvalidServerPort
	}

	// 验证上游配置。API密钥允许为空：缺失时在会话启动阶段
	// 返回显式错误，而不是让整个进程无法启动。
	if config.Gemini.Host == "" {
		return ErrEmptyGeminiHost
	}
	if config.Gemini.Model == "" {
		return ErrEmptyGeminiModel
	}
	if config.Gemini.InputSampleRate <= 0 || config.Gemini.OutputSampleRate <= 0 {
		return ErrInvalidSampleRate
	}

	return nil
}
