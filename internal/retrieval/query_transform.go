package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
)

// QueryTransformer 检索前的查询改写接口
type QueryTransformer interface {
	Transform(ctx context.Context, query *Query) error
}

const queryExpansionPrompt = `You are a helpful AI assistant. Your task is to generate %d different versions of the given user question to retrieve relevant documents from a vector database.
By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search.
Provide these alternative questions separated by a newline character.
Do not number the questions.

Original question: %s`

// 剥离模型无视指令加上的行首编号
var lineNumberPattern = regexp.MustCompile(`^\d+[\.\)]\s*`)

// QueryExpander 用LLM将原始查询扩写为多个同义变体
// 任何失败都退化为仅原始查询，不会中断检索
type QueryExpander struct {
	generator  TextGenerator
	numQueries int
}

// NewQueryExpander 创建查询扩写器，numQueries为包含原始查询的总数
func NewQueryExpander(generator TextGenerator, numQueries int) *QueryExpander {
	return &QueryExpander{
		generator:  generator,
		numQueries: numQueries,
	}
}

func (e *QueryExpander) Transform(ctx context.Context, query *Query) error {
	if e.numQueries <= 1 {
		query.Expanded = []string{query.Original}
		return nil
	}

	prompt := fmt.Sprintf(queryExpansionPrompt, e.numQueries-1, query.Original)
	text, err := e.generator.Complete(ctx, []ChatMessage{
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warn("query expansion failed, falling back to original query", zap.Error(err))
		query.Expanded = []string{query.Original}
		return nil
	}

	variants := []string{query.Original}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(lineNumberPattern.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			variants = append(variants, line)
		}
	}

	query.Expanded = dedupePreserveOrder(variants)
	logger.Debug("query expanded",
		zap.String("original", query.Original),
		zap.Int("variants", len(query.Expanded)))
	return nil
}

// dedupePreserveOrder 去重并保留首次出现顺序
func dedupePreserveOrder(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

const selfQueryPrompt = `You are an expert AI assistant that extracts structured information from a user's query to be used for database filtering.
Your task is to extract any of the following metadata fields if they are present in the user's query.
If a value for a field is not present in the query, do not include the key for that field in your response.

The valid fields to extract are:
- 'author': The name of an author.
- 'document_type': The type of a document. Valid values for 'document_type' are: %s.

Respond ONLY with a valid JSON object. Do not include any explanations, markdown formatting, or any text before or after the JSON object.
If no relevant information is found, return an empty JSON object: {}.

Here are some examples:

User Query: "Tell me about RAG based on articles by Paul Iusztin"
JSON Response: {"author": "Paul Iusztin"}

User Query: "Show me some python examples from the markdown files"
JSON Response: {"document_type": "md"}

User Query: "What is Query Expansion?"
JSON Response: {}

---
User Query:
%s
`

// 可作为document_type过滤值的封闭集合
var validDocumentTypes = []string{"pdf", "docx", "txt", "md", "unknown"}

// extractedFilters 自查询的结构化输出，未知字段一律拒绝
type extractedFilters struct {
	Author       string `json:"author,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// SelfQueryExtractor 从查询文本中抽取元数据过滤条件
// 输出必须是严格JSON且取值在封闭集合内，否则视为无过滤条件
type SelfQueryExtractor struct {
	generator TextGenerator
}

// NewSelfQueryExtractor 创建自查询过滤条件抽取器
func NewSelfQueryExtractor(generator TextGenerator) *SelfQueryExtractor {
	return &SelfQueryExtractor{generator: generator}
}

func (s *SelfQueryExtractor) Transform(ctx context.Context, query *Query) error {
	prompt := fmt.Sprintf(selfQueryPrompt, strings.Join(validDocumentTypes, ", "), query.Original)
	text, err := s.generator.Complete(ctx, []ChatMessage{
		{Role: RoleSystem, Content: "You are a world class JSON extractor."},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warn("self-query extraction failed, proceeding without filters", zap.Error(err))
		query.Filters = nil
		return nil
	}

	filters, ok := parseExtractedFilters(text)
	if !ok {
		logger.Warn("self-query returned unusable output, proceeding without filters",
			zap.String("query", query.Original))
		query.Filters = nil
		return nil
	}

	query.Filters = filters
	if filters != nil {
		logger.Info("self-query extracted filters", zap.Any("filters", filters))
	}
	return nil
}

// parseExtractedFilters 校验模型输出，失败时第二个返回值为false
func parseExtractedFilters(text string) (map[string]string, bool) {
	decoder := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	decoder.DisallowUnknownFields()

	var extracted extractedFilters
	if err := decoder.Decode(&extracted); err != nil {
		return nil, false
	}

	filters := make(map[string]string)
	if extracted.Author != "" {
		filters["author"] = extracted.Author
	}
	if extracted.DocumentType != "" {
		if !isValidDocumentType(extracted.DocumentType) {
			return nil, false
		}
		filters["document_type"] = extracted.DocumentType
	}
	if len(filters) == 0 {
		return nil, true
	}
	return filters, true
}

func isValidDocumentType(value string) bool {
	for _, dt := range validDocumentTypes {
		if value == dt {
			return true
		}
	}
	return false
}
