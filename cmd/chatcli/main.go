// chatcli is a terminal client for a running lorebound server. It sends a
// message, asks for a generated reply, and renders the token stream the
// way a UI would: through the coalescing accumulation buffer, repainting
// at most once per frame tick.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/lorebound/lorebound-backend/internal/realtime"
	"github.com/lorebound/lorebound-backend/internal/streambuf"
)

type wireMessage struct {
	Channel string            `json:"channel"`
	Event   realtime.SSEEvent `json:"event"`
	Data    json.RawMessage   `json:"data,omitempty"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	chatID := flag.String("chat", "", "chat id to follow (required)")
	message := flag.String("message", "", "optional user message to send before following")
	speakerID := flag.String("speaker", "00000000-0000-0000-0000-000000000001", "speaker id for sent messages")
	flag.Parse()

	if *chatID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -chat <chat-id> [-message \"...\"]")
		os.Exit(1)
	}

	client := &http.Client{}

	if *message != "" {
		if err := sendAndGenerate(client, *addr, *chatID, *speakerID, *message); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := follow(client, *addr, *chatID, *message != ""); err != nil {
		fmt.Fprintf(os.Stderr, "stream failed: %v\n", err)
		os.Exit(1)
	}
}

// sendAndGenerate appends the user message at the active leaf and kicks
// off a generation reply under it.
func sendAndGenerate(client *http.Client, addr, chatID, speakerID, message string) error {
	var pathResp struct {
		Path []string `json:"path"`
	}
	if err := getJSON(client, addr+"/api/chats/"+chatID+"/path", &pathResp); err != nil {
		return err
	}
	var parentID *string
	if len(pathResp.Path) > 0 {
		leaf := pathResp.Path[len(pathResp.Path)-1]
		parentID = &leaf
	}

	var appendResp struct {
		Node struct {
			ID string `json:"id"`
		} `json:"node"`
	}
	err := postJSON(client, addr+"/api/chats/"+chatID+"/messages", map[string]any{
		"parentId":  parentID,
		"speakerId": speakerID,
		"message":   message,
	}, &appendResp)
	if err != nil {
		return err
	}

	return postJSON(client, addr+"/api/chats/"+chatID+"/generate", map[string]any{
		"parentId":  appendResp.Node.ID,
		"speakerId": speakerID,
	}, nil)
}

// follow subscribes to the chat's SSE channel and renders generation
// streams until interrupted (or until one reply completes in oneShot
// mode). On connect it reconciles against the server's accumulated
// content, so joining mid-stream or reconnecting never replays chunks.
func follow(client *http.Client, addr, chatID string, oneShot bool) error {
	req, err := http.NewRequest(http.MethodGet, addr+"/api/realtime/stream?channels="+chatID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe: http %d", resp.StatusCode)
	}

	buf := streambuf.NewBuffer(streambuf.NewTimerScheduler())
	buf.SubscribeToContent(func(content string) {
		fmt.Printf("\r\033[K%s", content)
	})

	// Catch-up: a stream may already be in flight.
	var current struct {
		Active  bool   `json:"active"`
		Content string `json:"content"`
	}
	if err := getJSON(client, addr+"/api/chats/"+chatID+"/stream", &current); err == nil && current.Active {
		buf.StartSession()
		buf.SetContent(current.Content)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &msg); err != nil {
			continue
		}
		var ev realtime.StreamEvent
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
		}

		switch msg.Event {
		case realtime.SSEEventStreamStart:
			buf.StartSession()
		case realtime.SSEEventStreamChunk:
			buf.AppendChunk(ev.Delta)
		case realtime.SSEEventStreamEnd:
			buf.FinalizeSession()
			fmt.Println()
			if oneShot {
				return nil
			}
		case realtime.SSEEventStreamError:
			buf.CancelSession()
			fmt.Printf("\n[stream ended: %s]\n", ev.Error)
			if oneShot {
				return nil
			}
		}
	}
	return scanner.Err()
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: http %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(client *http.Client, url string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("POST %s: http %d: %s", url, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
