// Package codec 提供PCM音频片段到WAV格式的转换功能
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// 固定44字节的标准WAV文件头长度
const headerSize = 44

// Options WAV转换参数
type Options struct {
	NumChannels   int // 声道数，固定单声道
	SampleRate    int // 采样率
	BitsPerSample int // 位深
}

// ParseMimeType 解析形如 audio/L16;rate=24000 的MIME描述符。
// 位深缺失时默认16；采样率缺失时使用defaultRate，
// defaultRate为0则返回错误，避免静默生成错误的文件头。
func ParseMimeType(mimeType string, defaultRate int) (Options, error) {
	opts := Options{
		NumChannels:   1,
		BitsPerSample: 16,
		SampleRate:    defaultRate,
	}

	parts := strings.Split(mimeType, ";")
	if len(parts) == 0 || parts[0] == "" {
		return opts, fmt.Errorf("MIME类型不能为空")
	}

	// 主类型形如 audio/L16，从子类型解析位深
	mainType := strings.TrimSpace(parts[0])
	if idx := strings.Index(mainType, "/"); idx >= 0 {
		subType := mainType[idx+1:]
		if strings.HasPrefix(subType, "L") {
			if bits, err := strconv.Atoi(subType[1:]); err == nil && bits > 0 {
				opts.BitsPerSample = bits
			}
		}
	}

	// 参数形如 rate=24000
	for _, param := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(param), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(kv[0]), "rate") {
			rate, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil || rate <= 0 {
				return opts, fmt.Errorf("无效的采样率参数: %s", kv[1])
			}
			opts.SampleRate = rate
		}
	}

	if opts.SampleRate <= 0 {
		return opts, fmt.Errorf("MIME类型缺少采样率且没有会话默认值: %s", mimeType)
	}

	return opts, nil
}

// Encode 将一组base64编码的PCM片段按顺序拼接为完整的WAV字节缓冲。
// 纯函数，无副作用。
func Encode(fragments []string, opts Options) ([]byte, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("采样率必须大于0")
	}
	if opts.NumChannels <= 0 {
		opts.NumChannels = 1
	}
	if opts.BitsPerSample <= 0 {
		opts.BitsPerSample = 16
	}

	// 先解码再统计长度，base64编码长度不等于PCM字节长度
	decoded := make([][]byte, 0, len(fragments))
	dataLength := 0
	for i, fragment := range fragments {
		data, err := base64.StdEncoding.DecodeString(fragment)
		if err != nil {
			return nil, fmt.Errorf("解码第%d个音频片段失败: %v", i, err)
		}
		decoded = append(decoded, data)
		dataLength += len(data)
	}

	buf := make([]byte, 0, headerSize+dataLength)
	buf = append(buf, writeHeader(dataLength, opts)...)
	for _, data := range decoded {
		buf = append(buf, data...)
	}

	return buf, nil
}

// EncodeWav 按MIME描述符编码，是Encode的便捷封装
func EncodeWav(fragments []string, mimeType string) ([]byte, error) {
	opts, err := ParseMimeType(mimeType, 0)
	if err != nil {
		return nil, err
	}
	return Encode(fragments, opts)
}

// writeHeader 生成标准44字节RIFF/WAVE文件头
func writeHeader(dataLength int, opts Options) []byte {
	byteRate := opts.SampleRate * opts.NumChannels * opts.BitsPerSample / 8
	blockAlign := opts.NumChannels * opts.BitsPerSample / 8

	header := make([]byte, headerSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLength))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // fmt子块长度
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM格式
	binary.LittleEndian.PutUint16(header[22:24], uint16(opts.NumChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(opts.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(opts.BitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLength))

	return header
}

// IsWAVHeader 检查数据是否以WAV文件头开始
func IsWAVHeader(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
