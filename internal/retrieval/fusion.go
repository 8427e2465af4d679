package retrieval

import (
	"sort"
)

// DefaultFusionK RRF平滑常数默认值，越大对排名位置越不敏感
const DefaultFusionK = 60

// FuseReciprocalRank 对多个已排序的候选列表做倒数排名融合
//
// lists[0] 是主列表（向量检索结果），其余为辅助列表（如BM25）。
// 每个候选的融合分数为它出现过的每个列表贡献 1/(k+rank+1) 之和，
// rank 为该列表内的0基位置。主列表中的候选保留原向量分数不动，
// 融合分数只写入独立的 RRFScore 字段用于重排序。
//
// 主列表为空时直接返回空结果：候选池必须由向量结果奠基，
// 辅助列表只能在此基础上补充（见 BM25 分支的语义约定）。
func FuseReciprocalRank(lists [][]Document, k int) []Document {
	if k <= 0 {
		k = DefaultFusionK
	}
	if len(lists) == 0 || len(lists[0]) == 0 {
		return nil
	}

	fused := make(map[string]float64)
	docMap := make(map[string]*Document)
	order := make([]string, 0, len(lists[0]))

	// 先登记主列表，保证权威向量分数不被辅助列表覆盖
	for _, doc := range lists[0] {
		if _, ok := docMap[doc.ID]; ok {
			continue
		}
		d := doc
		docMap[doc.ID] = &d
		order = append(order, doc.ID)
	}

	for _, list := range lists {
		for rank, doc := range list {
			if _, ok := docMap[doc.ID]; !ok {
				// 仅出现在辅助列表中的候选也纳入池子
				d := doc
				docMap[doc.ID] = &d
				order = append(order, doc.ID)
			}
			// BM25分数回填到规范文档上，便于观测
			if doc.BM25Score != nil && docMap[doc.ID].BM25Score == nil {
				docMap[doc.ID].BM25Score = doc.BM25Score
			}
			fused[doc.ID] += 1.0 / float64(k+rank+1)
		}
	}

	results := make([]Document, 0, len(order))
	for _, id := range order {
		doc := docMap[id]
		doc.RRFScore = float64Ptr(fused[id])
		results = append(results, *doc)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if *results[i].RRFScore == *results[j].RRFScore {
			return results[i].ID < results[j].ID
		}
		return *results[i].RRFScore > *results[j].RRFScore
	})

	return results
}
