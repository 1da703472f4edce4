// Package main Mock LLM - 模拟 OpenAI 兼容推理服务
//
// 本地开发时替代真实模型服务：
//
//	go run ./cmd/mock-llm -port 8000
//	LLM_BASE_URL=http://localhost:8000 go run ./cmd/api-server
//
// 支持流式（SSE）与非流式 /v1/chat/completions，
// 回答为固定模板，带入最后一条用户消息便于肉眼核对链路。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

func main() {
	port := flag.String("port", "8000", "listen port")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between stream chunks")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		reply := buildReply(req.Messages)
		if req.Stream {
			streamCompletion(w, reply, *delay)
			return
		}
		writeCompletion(w, reply)
	})

	log.Printf("Mock LLM listening on :%s", *port)
	if err := http.ListenAndServe(":"+*port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildReply 基于最后一条用户消息生成固定回答
func buildReply(messages []chatMessage) string {
	last := ""
	for _, m := range messages {
		if m.Role == "user" {
			last = m.Content
		}
	}
	if last == "" {
		return "Hello! I am a mock model."
	}
	return fmt.Sprintf("Mock reply to: %q. Nothing was actually computed.", last)
}

func writeCompletion(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     len(reply) / 4,
			"completion_tokens": len(reply) / 4,
		},
	})
}

// streamCompletion 按词切片推送 SSE 增量
func streamCompletion(w http.ResponseWriter, reply string, delay time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	words := strings.SplitAfter(reply, " ")
	for _, word := range words {
		writeChunk(w, map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": word}},
			},
		})
		flusher.Flush()
		time.Sleep(delay)
	}

	writeChunk(w, map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{}, "finish_reason": "stop"},
		},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, payload interface{}) {
	b, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", b)
}
