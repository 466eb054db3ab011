package codec

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMimeType(t *testing.T) {
	opts, err := ParseMimeType("audio/L16;rate=24000", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, opts.NumChannels)
	assert.Equal(t, 24000, opts.SampleRate)
	assert.Equal(t, 16, opts.BitsPerSample)

	// 位深缺失时默认16
	opts, err = ParseMimeType("audio/pcm;rate=44100", 0)
	require.NoError(t, err)
	assert.Equal(t, 44100, opts.SampleRate)
	assert.Equal(t, 16, opts.BitsPerSample)

	// 8位样本
	opts, err = ParseMimeType("audio/L8;rate=8000", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, opts.BitsPerSample)

	// 采样率缺失时使用会话默认值
	opts, err = ParseMimeType("audio/pcm", 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, opts.SampleRate)

	// 采样率缺失且没有默认值是错误
	_, err = ParseMimeType("audio/pcm", 0)
	assert.Error(t, err)

	// 无效的采样率参数
	_, err = ParseMimeType("audio/L16;rate=abc", 0)
	assert.Error(t, err)
}

func TestEncodeHeader(t *testing.T) {
	// "AAAA" 解码后为3字节PCM
	buf, err := EncodeWav([]string{"AAAA"}, "audio/L16;rate=24000")
	require.NoError(t, err)
	require.Len(t, buf, 44+3)

	// RIFF块大小 = 36 + 数据长度
	assert.Equal(t, uint32(36+3), binary.LittleEndian.Uint32(buf[4:8]))
	// 采样率
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(buf[24:28]))
	// 位深
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(buf[34:36]))
	// 块标识
	assert.Equal(t, "RIFF", string(buf[0:4]))
	assert.Equal(t, "WAVE", string(buf[8:12]))
	assert.Equal(t, "fmt ", string(buf[12:16]))
	assert.Equal(t, "data", string(buf[36:40]))
	// 字节率和块对齐
	assert.Equal(t, uint32(24000*2), binary.LittleEndian.Uint32(buf[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[32:34]))
}

func TestEncodeEmptyFragments(t *testing.T) {
	buf, err := EncodeWav(nil, "audio/L16;rate=16000")
	require.NoError(t, err)
	require.Len(t, buf, 44)

	// data子块长度为0，往返解码得到0字节PCM
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[40:44]))
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, 0, len(buf[44:]))
}

func TestEncodeDecodedLength(t *testing.T) {
	// 两个片段，各3字节，总数据长度按解码后的字节统计
	data := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	buf, err := EncodeWav([]string{data, data}, "audio/L16;rate=16000")
	require.NoError(t, err)
	require.Len(t, buf, 44+6)
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(buf[40:44]))
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, buf[44:])
}

func TestEncodeInvalidBase64(t *testing.T) {
	_, err := EncodeWav([]string{"!!!!"}, "audio/L16;rate=16000")
	assert.Error(t, err)
}

func TestEncodeDeterministic(t *testing.T) {
	fragments := []string{"AAAA", "AgME"}
	a, err := EncodeWav(fragments, "audio/L16;rate=24000")
	require.NoError(t, err)
	b, err := EncodeWav(fragments, "audio/L16;rate=24000")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIsWAVHeader(t *testing.T) {
	buf, err := EncodeWav(nil, "audio/L16;rate=16000")
	require.NoError(t, err)
	assert.True(t, IsWAVHeader(buf))
	assert.False(t, IsWAVHeader([]byte("RIFFxxxx")))
	assert.False(t, IsWAVHeader([]byte{0x00, 0x01}))
}
