// 回放工具：把PCAP抓包文件里的通话音频重放到语音中继服务，
// 并把模型回复的WAV音频保存到本地，用于联调和回归验证。
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"ai_voice_bridge/internal/clients/ws"
	"ai_voice_bridge/internal/types"
	"ai_voice_bridge/internal/utils"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime)

	pcapFile := flag.String("pcap", "", "PCAP抓包文件路径")
	serverURL := flag.String("url", "ws://127.0.0.1:8080/ws/voice", "中继服务地址")
	sessionID := flag.String("session", "replay", "会话ID")
	outDir := flag.String("out", ".", "WAV输出目录")
	interval := flag.Duration("interval", 20*time.Millisecond, "包发送间隔")
	flag.Parse()

	if *pcapFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	// 从抓包文件提取音频流
	reader, err := utils.NewPCAPReader(*pcapFile)
	if err != nil {
		log.Fatalf("打开PCAP文件失败: %v", err)
	}
	defer reader.Close()

	payloads, err := reader.ExtractAudio()
	if err != nil {
		log.Fatalf("提取音频失败: %v", err)
	}
	log.Printf("[INFO] 提取到%d个音频包", len(payloads))

	// 连接中继服务
	started := make(chan struct{}, 1)
	turns := make(chan []byte, 8)

	client := ws.NewClient(ws.Config{URL: *serverURL})
	client.OnEvent(types.EventTypeSessionStarted, func(event types.ServerEvent) error {
		log.Printf("[INFO] 会话已启动: %s", event.SessionID)
		started <- struct{}{}
		return nil
	})
	client.OnEvent(types.EventTypeError, func(event types.ServerEvent) error {
		log.Printf("[ERROR] 中继服务报错: %s (%s)", event.Error, event.Details)
		return nil
	})
	client.OnEvent(types.EventTypeText, func(event types.ServerEvent) error {
		log.Printf("[INFO] 模型文本: %s", event.Text)
		return nil
	})
	client.OnAudio(func(wav []byte) error {
		turns <- wav
		return nil
	})

	if err := client.Connect(); err != nil {
		log.Fatalf("连接中继服务失败: %v", err)
	}
	defer client.Close()

	if err := client.StartSession(*sessionID); err != nil {
		log.Fatalf("启动会话失败: %v", err)
	}
	select {
	case <-started:
	case <-time.After(15 * time.Second):
		log.Fatalf("等待会话启动超时")
	case <-client.Done():
		log.Fatalf("连接在会话启动前被关闭")
	}

	// 按抓包节奏回放音频
	turnCount := 0
	saveTurns := func() {
		for {
			select {
			case wav := <-turns:
				turnCount++
				name := filepath.Join(*outDir, fmt.Sprintf("turn_%03d.wav", turnCount))
				if err := os.WriteFile(name, wav, 0o644); err != nil {
					log.Printf("[ERROR] 保存WAV失败: %v", err)
					continue
				}
				log.Printf("[INFO] 已保存轮次音频: %s (%d字节)", name, len(wav))
			default:
				return
			}
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i, payload := range payloads {
		<-ticker.C
		if err := client.SendAudio(payload); err != nil {
			log.Fatalf("发送音频失败: %v", err)
		}
		if (i+1)%100 == 0 {
			log.Printf("[DEBUG] 已发送%d/%d个音频包", i+1, len(payloads))
		}
		saveTurns()
	}

	// 结束会话并等待最后一轮音频
	if err := client.EndSession(*sessionID); err != nil {
		log.Printf("[WARN] 发送end消息失败: %v", err)
	}

	deadline := time.After(15 * time.Second)
	for {
		select {
		case wav := <-turns:
			turnCount++
			name := filepath.Join(*outDir, fmt.Sprintf("turn_%03d.wav", turnCount))
			if err := os.WriteFile(name, wav, 0o644); err != nil {
				log.Printf("[ERROR] 保存WAV失败: %v", err)
			} else {
				log.Printf("[INFO] 已保存轮次音频: %s (%d字节)", name, len(wav))
			}
		case <-deadline:
			log.Printf("[INFO] 回放完成，共收到%d个轮次", turnCount)
			return
		case <-client.Done():
			log.Printf("[INFO] 连接已关闭，共收到%d个轮次", turnCount)
			return
		}
	}
}
