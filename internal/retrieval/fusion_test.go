package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseReciprocalRankEmptyPrimary(t *testing.T) {
	secondary := []Document{
		{ID: "a", Content: "alpha", BM25Score: float64Ptr(2.5)},
	}

	assert.Nil(t, FuseReciprocalRank(nil, DefaultFusionK))
	assert.Nil(t, FuseReciprocalRank([][]Document{{}, secondary}, DefaultFusionK))
}

func TestFuseReciprocalRankScores(t *testing.T) {
	dense := []Document{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.8},
	}
	lexical := []Document{
		{ID: "b", BM25Score: float64Ptr(3.1)},
		{ID: "c", BM25Score: float64Ptr(1.2)},
	}

	fused := FuseReciprocalRank([][]Document{dense, lexical}, 60)
	require.Len(t, fused, 3)

	// b在两个列表中都出现，融合分数最高
	assert.Equal(t, "b", fused[0].ID)
	assert.InDelta(t, 1.0/62+1.0/61, *fused[0].RRFScore, 1e-12)
	assert.Equal(t, "a", fused[1].ID)
	assert.InDelta(t, 1.0/61, *fused[1].RRFScore, 1e-12)
	assert.Equal(t, "c", fused[2].ID)
	assert.InDelta(t, 1.0/62, *fused[2].RRFScore, 1e-12)
}

func TestFuseReciprocalRankPreservesVectorScore(t *testing.T) {
	dense := []Document{{ID: "a", Score: 0.87}}
	lexical := []Document{{ID: "a", Score: 0, BM25Score: float64Ptr(4.2)}}

	fused := FuseReciprocalRank([][]Document{dense, lexical}, 60)
	require.Len(t, fused, 1)

	assert.Equal(t, 0.87, fused[0].Score)
	require.NotNil(t, fused[0].BM25Score)
	assert.Equal(t, 4.2, *fused[0].BM25Score)
	assert.NotNil(t, fused[0].RRFScore)
}

func TestFuseReciprocalRankSecondaryOnlyCandidates(t *testing.T) {
	dense := []Document{{ID: "a", Score: 0.5}}
	lexical := []Document{
		{ID: "x", BM25Score: float64Ptr(2.0)},
		{ID: "y", BM25Score: float64Ptr(1.0)},
	}

	fused := FuseReciprocalRank([][]Document{dense, lexical}, 60)
	require.Len(t, fused, 3)

	ids := []string{fused[0].ID, fused[1].ID, fused[2].ID}
	assert.Contains(t, ids, "x")
	assert.Contains(t, ids, "y")
}

func TestFuseReciprocalRankDeterministicTieBreak(t *testing.T) {
	// 两个候选在各自列表中占同一排名，分数相同，按ID决出顺序
	dense := []Document{{ID: "b", Score: 0.9}}
	lexical := []Document{{ID: "a", BM25Score: float64Ptr(1.0)}}

	first := FuseReciprocalRank([][]Document{dense, lexical}, 60)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	// 重复融合结果一致
	second := FuseReciprocalRank([][]Document{dense, lexical}, 60)
	assert.Equal(t, first, second)
}

func TestFuseReciprocalRankSecondaryOrderInvariant(t *testing.T) {
	dense := []Document{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.7},
	}
	lexicalA := []Document{
		{ID: "b", BM25Score: float64Ptr(3.0)},
		{ID: "c", BM25Score: float64Ptr(1.5)},
	}
	lexicalB := []Document{
		{ID: "c", BM25Score: float64Ptr(2.2)},
		{ID: "d", BM25Score: float64Ptr(0.8)},
	}

	// 次级列表之间的先后只影响遍历顺序，不影响排名与融合分数
	forward := FuseReciprocalRank([][]Document{dense, lexicalA, lexicalB}, 60)
	reversed := FuseReciprocalRank([][]Document{dense, lexicalB, lexicalA}, 60)

	require.Len(t, forward, 4)
	require.Len(t, reversed, 4)
	for i := range forward {
		assert.Equal(t, forward[i].ID, reversed[i].ID)
		require.NotNil(t, forward[i].RRFScore)
		require.NotNil(t, reversed[i].RRFScore)
		assert.InDelta(t, *forward[i].RRFScore, *reversed[i].RRFScore, 1e-12)
	}
}

func TestFuseReciprocalRankDefaultK(t *testing.T) {
	dense := []Document{{ID: "a", Score: 0.9}}

	fused := FuseReciprocalRank([][]Document{dense}, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/(DefaultFusionK+1), *fused[0].RRFScore, 1e-12)
}
