package nodes

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatRequest is the prep result of LLMNode and LLMRouter.
type ChatRequest struct {
	// Input is the user message; empty when the input key was unset.
	Input     string
	OutputKey string
	Request   openai.ChatCompletionRequest
}

func newChatRequest(model, system, input string, temperature float32, maxTokens int) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	if input != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input})
	}
	return req
}

// complete sends one chat completion and returns the first choice.
func complete(ctx context.Context, client *openai.Client, node string, req openai.ChatCompletionRequest) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: chat completion: %w", node, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: chat completion returned no choices", node)
	}
	return resp.Choices[0].Message.Content, nil
}

func inputText(v any, ok bool) string {
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
