/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gpt

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func cl100k() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// truncateToTokens keeps roughly the first maxTokens tokens of text.
// Without the encoding tables it assumes four characters per token.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || utf8.RuneCountInString(text) <= maxTokens {
		return text
	}
	if enc := cl100k(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + "..."
	}
	return truncateRunes(text, maxTokens*4)
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
