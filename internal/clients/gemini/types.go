// Package gemini 实现与语音模型上游的WebSocket双向流通信
package gemini

import "encoding/json"

// SetupMessage 连接建立后发送的会话配置帧
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup 会话配置
type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         *GenerationConfig         `json:"generationConfig,omitempty"`
	RealtimeInputConfig      *RealtimeInputConfig      `json:"realtimeInputConfig,omitempty"`
	ContextWindowCompression *ContextWindowCompression `json:"contextWindowCompression,omitempty"`
}

// GenerationConfig 生成配置，本系统只使用音频输出
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	MediaResolution    string        `json:"mediaResolution,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig 语音配置
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// VoiceConfig 语音身份配置
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// PrebuiltVoiceConfig 预置语音
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// RealtimeInputConfig 轮次覆盖策略：所有输入音频默认视为当前轮次的一部分
type RealtimeInputConfig struct {
	ActivityHandling string `json:"activityHandling,omitempty"`
}

// ContextWindowCompression 上下文窗口压缩策略，限制长会话的上游上下文增长
type ContextWindowCompression struct {
	TriggerTokens int            `json:"triggerTokens,omitempty"`
	SlidingWindow *SlidingWindow `json:"slidingWindow,omitempty"`
}

// SlidingWindow 压缩目标token预算
type SlidingWindow struct {
	TargetTokens int `json:"targetTokens,omitempty"`
}

// ClientContentMessage 客户端内容帧，携带音频输入
type ClientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

// ClientContent 一组输入轮次
type ClientContent struct {
	Turns        []Turn `json:"turns"`
	TurnComplete bool   `json:"turnComplete"`
}

// Turn 单个输入轮次
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part 消息片段，音频通过inlineData携带base64编码的PCM数据
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
	FileData   *FileData   `json:"fileData,omitempty"`
}

// InlineData 内联二进制数据
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData 文件引用数据
type FileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

// ToolResponseMessage 工具调用响应帧
type ToolResponseMessage struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// ToolResponse 按调用ID回复的工具响应集合
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse 单个工具调用的响应
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ServerMessage 上游下发的消息。
// 用带标签的变体类型代替无类型的map探测，保证分发逻辑是穷尽的：
// SetupComplete、ServerContent、ToolCall、GoAway中恰有一个非空。
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// SetupComplete 会话配置完成标记
type SetupComplete struct{}

// GoAway 上游即将断开连接的预告
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerContent 模型内容消息
type ServerContent struct {
	ModelTurn    *ModelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

// ModelTurn 模型输出的轮次内容
type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

// ToolCall 上游发起的工具调用请求
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// FunctionCall 单个工具调用
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ParseServerMessage 解析上游消息
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
