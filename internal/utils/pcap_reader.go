// Package utils 提供通用工具
package utils

import (
	"fmt"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PCAPReader 从PCAP抓包文件中提取通话音频，供回放工具使用
type PCAPReader struct {
	filename string
	handle   *pcap.Handle
}

// RTPPacket 单个RTP包的解析结果
type RTPPacket struct {
	SSRC        uint32
	SequenceNum uint16
	Timestamp   uint32
	PayloadType uint8
	Payload     []byte
}

// NewPCAPReader 创建新的PCAP读取器
func NewPCAPReader(filename string) (*PCAPReader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("打开PCAP文件失败: %v", err)
	}

	return &PCAPReader{
		filename: filename,
		handle:   handle,
	}, nil
}

// Close 关闭PCAP读取器
func (r *PCAPReader) Close() {
	if r.handle != nil {
		r.handle.Close()
	}
}

// reopenHandle 重新打开PCAP文件句柄
func (r *PCAPReader) reopenHandle() error {
	if r.handle != nil {
		r.handle.Close()
	}

	handle, err := pcap.OpenOffline(r.filename)
	if err != nil {
		return fmt.Errorf("重新打开PCAP文件失败: %v", err)
	}

	r.handle = handle
	return nil
}

// ReadRTPPackets 读取文件中所有UDP包并按RTP解析。
// 非RTP的UDP包被跳过，不是错误。
func (r *PCAPReader) ReadRTPPackets() ([]RTPPacket, error) {
	if err := r.reopenHandle(); err != nil {
		return nil, err
	}

	var packets []RTPPacket
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}

		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		rtp, ok := ParseRTP(udp.Payload)
		if !ok {
			continue
		}
		packets = append(packets, rtp)
	}

	return packets, nil
}

// ExtractAudio 提取音频流的PCM负载。
// 选包数最多的SSRC作为主音频流，按序列号排序后返回各包负载。
func (r *PCAPReader) ExtractAudio() ([][]byte, error) {
	packets, err := r.ReadRTPPackets()
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("文件中没有RTP音频包")
	}

	// 统计各SSRC的包数
	counts := make(map[uint32]int)
	for _, p := range packets {
		counts[p.SSRC]++
	}
	var mainSSRC uint32
	maxCount := 0
	for ssrc, count := range counts {
		if count > maxCount {
			mainSSRC = ssrc
			maxCount = count
		}
	}

	var stream []RTPPacket
	for _, p := range packets {
		if p.SSRC == mainSSRC {
			stream = append(stream, p)
		}
	}

	// 乱序到达的包按序列号恢复顺序
	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].SequenceNum < stream[j].SequenceNum
	})

	payloads := make([][]byte, 0, len(stream))
	for _, p := range stream {
		payloads = append(payloads, p.Payload)
	}
	return payloads, nil
}

// ParseRTP 按RTP头部解析UDP负载。
// 只接受版本2的包，返回的负载已剥离CSRC列表和填充。
func ParseRTP(data []byte) (RTPPacket, bool) {
	// 固定头部12字节
	if len(data) < 12 {
		return RTPPacket{}, false
	}

	version := data[0] >> 6
	if version != 2 {
		return RTPPacket{}, false
	}

	padding := data[0]&0x20 != 0
	csrcCount := int(data[0] & 0x0F)
	payloadType := data[1] & 0x7F

	headerLen := 12 + csrcCount*4
	if len(data) < headerLen {
		return RTPPacket{}, false
	}

	payload := data[headerLen:]
	if padding {
		if len(payload) == 0 {
			return RTPPacket{}, false
		}
		padLen := int(payload[len(payload)-1])
		if padLen == 0 || padLen > len(payload) {
			return RTPPacket{}, false
		}
		payload = payload[:len(payload)-padLen]
	}
	if len(payload) == 0 {
		return RTPPacket{}, false
	}

	return RTPPacket{
		SSRC:        uint32(data[8])<<24 | uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11]),
		SequenceNum: uint16(data[2])<<8 | uint16(data[3]),
		Timestamp:   uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]),
		PayloadType: payloadType,
		Payload:     payload,
	}, true
}
