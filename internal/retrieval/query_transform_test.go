package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueryExpanderSingleQueryNoCall(t *testing.T) {
	generator := new(MockGenerator)
	expander := NewQueryExpander(generator, 1)

	query := &Query{Original: "what is rag"}
	require.NoError(t, expander.Transform(context.Background(), query))

	assert.Equal(t, []string{"what is rag"}, query.Expanded)
	generator.AssertNotCalled(t, "Complete")
}

func TestQueryExpanderParsesVariants(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).
		Return("1. how does retrieval augmented generation work\n\n2) rag pipeline explained\nwhat is rag\n", nil)

	expander := NewQueryExpander(generator, 3)
	query := &Query{Original: "what is rag"}
	require.NoError(t, expander.Transform(context.Background(), query))

	// 原始查询永远在首位，编号被剥掉，重复项去除
	assert.Equal(t, []string{
		"what is rag",
		"how does retrieval augmented generation work",
		"rag pipeline explained",
	}, query.Expanded)
}

func TestQueryExpanderFailSoft(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).
		Return("", errors.New("llm timeout"))

	expander := NewQueryExpander(generator, 3)
	query := &Query{Original: "what is rag"}
	require.NoError(t, expander.Transform(context.Background(), query))

	assert.Equal(t, []string{"what is rag"}, query.Expanded)
}

func TestSelfQueryExtractsFilters(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).
		Return(`{"author": "Paul Iusztin", "document_type": "md"}`, nil)

	extractor := NewSelfQueryExtractor(generator)
	query := &Query{Original: "articles by Paul Iusztin in markdown"}
	require.NoError(t, extractor.Transform(context.Background(), query))

	assert.Equal(t, map[string]string{
		"author":        "Paul Iusztin",
		"document_type": "md",
	}, query.Filters)
}

func TestSelfQueryEmptyObjectMeansNoFilters(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).Return(`{}`, nil)

	extractor := NewSelfQueryExtractor(generator)
	query := &Query{Original: "what is query expansion"}
	require.NoError(t, extractor.Transform(context.Background(), query))

	assert.Nil(t, query.Filters)
}

func TestSelfQueryRejectsInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":              "Sure! Here are the filters you asked for.",
		"unknown field":         `{"publisher": "acme"}`,
		"invalid document type": `{"document_type": "epub"}`,
	}

	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			generator := new(MockGenerator)
			generator.On("Complete", mock.Anything, mock.Anything).Return(output, nil)

			extractor := NewSelfQueryExtractor(generator)
			query := &Query{Original: "some question", Filters: map[string]string{"author": "stale"}}
			require.NoError(t, extractor.Transform(context.Background(), query))

			assert.Nil(t, query.Filters)
		})
	}
}

func TestSelfQueryFailSoft(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).
		Return("", errors.New("llm down"))

	extractor := NewSelfQueryExtractor(generator)
	query := &Query{Original: "some question"}
	require.NoError(t, extractor.Transform(context.Background(), query))

	assert.Nil(t, query.Filters)
}

func TestSearchQueriesDegeneratesToOriginal(t *testing.T) {
	query := &Query{Original: "bare question"}
	assert.Equal(t, []string{"bare question"}, query.SearchQueries())

	query.Expanded = []string{"bare question", "rephrased question"}
	assert.Equal(t, query.Expanded, query.SearchQueries())
}
