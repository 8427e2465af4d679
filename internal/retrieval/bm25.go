package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25参数，Okapi标准取值
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index 内存中的词频索引快照
// 由仓库在每次写入后整体重建，构建完成后不再修改，
// 并发读取方通过原子替换引用拿到旧快照或新快照
type BM25Index struct {
	docs      []Document
	tokenized [][]string
	docFreq   map[string]int
	docLen    []int
	avgDocLen float64
}

// NewBM25Index 对给定文档集合建立索引
func NewBM25Index(docs []Document) *BM25Index {
	idx := &BM25Index{
		docs:    docs,
		docFreq: make(map[string]int),
	}
	if len(docs) == 0 {
		return idx
	}

	idx.tokenized = make([][]string, len(docs))
	idx.docLen = make([]int, len(docs))
	totalLen := 0
	for i, doc := range docs {
		tokens := tokenize(doc.Content)
		idx.tokenized[i] = tokens
		idx.docLen[i] = len(tokens)
		totalLen += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				idx.docFreq[tok]++
			}
		}
	}
	idx.avgDocLen = float64(totalLen) / float64(len(docs))

	return idx
}

// Len 返回索引内文档数
func (idx *BM25Index) Len() int {
	return len(idx.docs)
}

// Search 执行BM25关键词检索
// 返回的候选只带BM25分数，向量分数置0（此处不适用）
func (idx *BM25Index) Search(query string, topK int) []Document {
	if idx == nil || len(idx.docs) == 0 || topK <= 0 {
		return nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	scores := make([]float64, len(idx.docs))
	for _, tok := range queryTokens {
		df, ok := idx.docFreq[tok]
		if !ok {
			continue
		}
		idf := math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for i, tokens := range idx.tokenized {
			tf := 0
			for _, t := range tokens {
				if t == tok {
					tf++
				}
			}
			if tf == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(idx.docLen[i])/idx.avgDocLen
			scores[i] += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*norm)
		}
	}

	order := make([]int, len(idx.docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] == scores[order[b]] {
			return idx.docs[order[a]].ID < idx.docs[order[b]].ID
		}
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}
	results := make([]Document, 0, topK)
	for _, i := range order[:topK] {
		if scores[i] <= 0 {
			break
		}
		doc := idx.docs[i]
		doc.Score = 0
		doc.BM25Score = float64Ptr(scores[i])
		results = append(results, doc)
	}

	return results
}

// tokenize 小写化并去除标点的简单分词
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return fields
}
