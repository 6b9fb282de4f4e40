package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"XiaoChat/logger"
	errs "XiaoChat/tools/errs"
)

// Client 对话模型 HTTP 客户端。
// 阻塞模式 POST 一次拿完整回答；流式模式读按行分隔的 JSON 块。
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

func NewClient(apiURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	User           string `json:"user,omitempty"`
	ResponseMode   string `json:"response_mode"`
}

type chatChunk struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id,omitempty"`
	Event          string `json:"event,omitempty"`
}

func (c *Client) post(ctx context.Context, body *chatRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.WrapMsg(err, "llm request failed")
	}
	if resp.StatusCode != http.StatusOK {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, errs.ErrServerInternal.WrapMsg("llm http status",
			"status", resp.StatusCode, "body", string(sample))
	}
	return resp, nil
}

// Reply 阻塞式应答
func (c *Client) Reply(ctx context.Context, conversationID, user, query string) (string, error) {
	resp, err := c.post(ctx, &chatRequest{
		Query:          query,
		ConversationID: conversationID,
		User:           user,
		ResponseMode:   "blocking",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatChunk
	if derr := json.NewDecoder(resp.Body).Decode(&out); derr != nil {
		return "", errs.WrapMsg(derr, "llm decode reply")
	}
	return out.Answer, nil
}

// StreamReply 流式应答。服务端按行吐 JSON 块，带 "data: " 前缀的
// SSE 行也兼容；answer 为空的块（心跳、事件）跳过。
func (c *Client) StreamReply(ctx context.Context, conversationID, user, query string, fn func(chunk string) error) error {
	resp, err := c.post(ctx, &chatRequest{
		Query:          query,
		ConversationID: conversationID,
		User:           user,
		ResponseMode:   "streaming",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimPrefix(line, "data: ")
		if line == "" || line == "[DONE]" {
			continue
		}
		var chunk chatChunk
		if uerr := json.Unmarshal([]byte(line), &chunk); uerr != nil {
			logger.Debugf("[llm] skip malformed chunk: %q", line)
			continue
		}
		if chunk.Answer == "" {
			continue
		}
		if ferr := fn(chunk.Answer); ferr != nil {
			return ferr
		}
	}
	if serr := sc.Err(); serr != nil {
		return errs.WrapMsg(serr, "llm stream read")
	}
	return nil
}
