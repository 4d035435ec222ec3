package spark

import (
	"encoding/json"
	"strings"
)

// statusTerminal marks the last frame of an answer.
const statusTerminal = 2

// Envelope is the single request sent on a session.
type Envelope struct {
	AppID       string
	SessionID   string
	Domain      string
	Temperature float64
	// MaxTokens is omitted from the wire when zero.
	MaxTokens int
	Prompt    string
}

type wireRequest struct {
	Header struct {
		AppID string `json:"app_id"`
		UID   string `json:"uid"`
	} `json:"header"`
	Parameter struct {
		Chat struct {
			Domain      string  `json:"domain"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens,omitempty"`
		} `json:"chat"`
	} `json:"parameter"`
	Payload struct {
		Message struct {
			Text []wireMessage `json:"text"`
		} `json:"message"`
	} `json:"payload"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	Header *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
	} `json:"header"`
	Payload struct {
		Choices *struct {
			Status int `json:"status"`
			Text   []struct {
				Content string `json:"content"`
			} `json:"text"`
		} `json:"choices"`
		Usage *struct {
			Text Usage `json:"text"`
		} `json:"usage"`
	} `json:"payload"`
}

// Usage reports token accounting; the service attaches it to the terminal frame.
type Usage struct {
	QuestionTokens   int `json:"question_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Frame is one decoded inbound message.
type Frame struct {
	SID      string
	Status   int
	Text     string
	Terminal bool
	Usage    *Usage
}

// Encode renders the envelope as a chat request.
func Encode(env Envelope) ([]byte, error) {
	var req wireRequest
	req.Header.AppID = env.AppID
	req.Header.UID = env.SessionID
	req.Parameter.Chat.Domain = env.Domain
	req.Parameter.Chat.Temperature = env.Temperature
	req.Parameter.Chat.MaxTokens = env.MaxTokens
	req.Payload.Message.Text = []wireMessage{{Role: "user", Content: env.Prompt}}
	return json.Marshal(req)
}

// Decode parses one inbound message. A non-zero header code yields a protocol
// Error carrying the service message instead of a frame. A frame without a
// header, or a successful frame without choices, is malformed.
func Decode(data []byte) (Frame, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Frame{}, newError(KindProtocol, "malformed frame", err)
	}
	if resp.Header == nil {
		return Frame{}, newError(KindProtocol, "malformed frame: missing header", nil)
	}
	if resp.Header.Code != 0 {
		return Frame{}, &Error{Kind: KindProtocol, Code: resp.Header.Code, Message: resp.Header.Message}
	}
	if resp.Payload.Choices == nil {
		return Frame{}, newError(KindProtocol, "malformed frame: missing choices", nil)
	}
	var sb strings.Builder
	for _, t := range resp.Payload.Choices.Text {
		sb.WriteString(t.Content)
	}
	f := Frame{
		SID:      resp.Header.SID,
		Status:   resp.Payload.Choices.Status,
		Text:     sb.String(),
		Terminal: resp.Payload.Choices.Status == statusTerminal,
	}
	if resp.Payload.Usage != nil {
		u := resp.Payload.Usage.Text
		f.Usage = &u
	}
	return f, nil
}
