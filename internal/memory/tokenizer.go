package memory

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 文本的token计数接口，短期记忆裁剪使用
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter 基于tiktoken编码表的计数器
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter 创建计数器，空编码名时使用cl100k_base
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encodingName, err)
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}
