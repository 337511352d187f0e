package llm

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Part is one element of the user message content array.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// TextPart wraps plain text.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart embeds image bytes as a base64 data URL.
func ImagePart(mediaType string, data []byte) Part {
	return Part{Type: "image_url", ImageURL: &imageURL{URL: dataURL(mediaType, data)}}
}

// PDFPart embeds a PDF document as a file part.
func PDFPart(filename string, data []byte) Part {
	return Part{Type: "file", File: &filePart{Filename: filename, FileData: dataURL("application/pdf", data)}}
}

func dataURL(mediaType string, data []byte) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	TopP           float64           `json:"top_p,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// chatMessage content is either a string (system) or a part list (user).
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func buildPayload(req Request) chatCompletionRequest {
	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Parts})
	payload := chatCompletionRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return payload
}

func extractCompletion(resp chatCompletionResponse) Completion {
	out := Completion{Model: resp.Model}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.OutputTokens = resp.Usage.CompletionTokens
	}
	for _, choice := range resp.Choices {
		if out.FinishReason == "" {
			out.FinishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			out.Content = content
			return out
		}
	}
	return out
}

func extractRefusal(resp chatCompletionResponse) string {
	for _, choice := range resp.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
