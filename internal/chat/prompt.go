package chat

import (
	"fmt"
	"strings"

	"github.com/aihub/rag-go/internal/retrieval"
)

// 基础系统提示，定义助手角色
const baseSystemPrompt = "You are TGBuddy, a helpful and direct assistant for the TGB-MicroSuite project. Provide concise, factual answers based on the provided context."

// 少样本示例，引导回答风格
var fewShotExamples = []retrieval.ChatMessage{
	{Role: retrieval.RoleUser, Content: "What is your name?"},
	{Role: retrieval.RoleAssistant, Content: "My name is TGBuddy."},
}

// 指令与正式对话之间的分隔对话
var contextSeparator = []retrieval.ChatMessage{
	{Role: retrieval.RoleUser, Content: "Okay, I understand the instructions. Let's start our conversation now."},
	{Role: retrieval.RoleAssistant, Content: "Great! I'm ready. How can I help you?"},
}

// formatContextBlock 把一组上下文片段拼成带标题的文本块
func formatContextBlock(title string, chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	return fmt.Sprintf("--- %s ---\n", strings.ToUpper(title)) + strings.Join(chunks, "\n\n")
}

// BuildChatPrompt 组装完整的LLM消息列表
// 系统提示依次注入知识库上下文与长期对话上下文，
// 然后是少样本示例、分隔对话、短期历史和当前问题
func BuildChatPrompt(
	history []retrieval.ChatMessage,
	userPrompt string,
	kbContextChunks []string,
	chatContextChunks []string,
) []retrieval.ChatMessage {
	kbContext := formatContextBlock("context from knowledge base", kbContextChunks)
	chatContext := formatContextBlock("relevant past messages", chatContextChunks)

	systemParts := []string{baseSystemPrompt}
	if kbContext != "" {
		systemParts = append(systemParts, kbContext)
	}
	if chatContext != "" {
		systemParts = append(systemParts, chatContext)
	}
	if kbContext != "" || chatContext != "" {
		systemParts = append(systemParts, "Based on the context above, answer the user's question.")
	}

	messages := make([]retrieval.ChatMessage, 0, len(history)+len(fewShotExamples)+len(contextSeparator)+2)
	messages = append(messages, retrieval.ChatMessage{
		Role:    retrieval.RoleSystem,
		Content: strings.Join(systemParts, "\n\n"),
	})
	messages = append(messages, fewShotExamples...)
	messages = append(messages, contextSeparator...)
	messages = append(messages, history...)
	messages = append(messages, retrieval.ChatMessage{
		Role:    retrieval.RoleUser,
		Content: userPrompt,
	})
	return messages
}
