package config

import "errors"

// 配置相关错误
var (
    ErrEmptyServerHost   = errors.New("服务器地址不能为空")
    ErrInvalidServerPort = errors.New("服务器端口必须大于0")
    ErrEmptyGeminiHost   = errors.New("上游服务器地址不能为空")
    ErrEmptyGeminiModel  = errors.New("上游模型名称不能为空")
    ErrInvalidSampleRate = errors.New("音频采样率必须大于0")
    ErrMissingAPIKey     = errors.New("缺少API密钥，请设置GEMINI_API_KEY")
)
