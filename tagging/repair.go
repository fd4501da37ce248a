// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package tagging

import "strings"

// stripFences removes a markdown code fence around a model answer and any prose
// before the first '{' or after the last '}'.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		body = strings.TrimSpace(body)
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimPrefix(body, "JSON")
		s = strings.TrimSpace(body)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// repairJSON fixes the formatting mistakes small models make most often:
// object keys with no quotes, keys missing only their opening quote
// (`, type":`), and trailing commas before a closing brace or bracket.
// Text inside string values is never touched.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	inString := false
	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)

		case ',':
			// Drop a trailing comma: next non-space is a closer.
			j := skipSpace(in, i+1)
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				continue
			}
			out = append(out, ch)
			i = repairKey(in, i+1, &out)

		case '{':
			out = append(out, ch)
			i = repairKey(in, i+1, &out)

		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// repairKey looks at the text following '{' or ',' starting at pos. When it holds
// an unquoted or half-quoted key, the key is written to out with both quotes.
// It returns the index of the last rune consumed.
func repairKey(in []rune, pos int, out *[]rune) int {
	j := skipSpace(in, pos)
	*out = append(*out, in[pos:j]...)
	if j >= len(in) || !isKeyStart(in[j]) {
		return j - 1
	}

	k := j
	for k < len(in) && isKeyRune(in[k]) {
		k++
	}
	key := in[j:k]

	// `key":` is missing only the opening quote.
	if k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
		*out = append(*out, '"')
		*out = append(*out, key...)
		*out = append(*out, '"')
		return k
	}

	// `key :` has no quotes at all.
	c := skipSpace(in, k)
	if c < len(in) && in[c] == ':' {
		*out = append(*out, '"')
		*out = append(*out, key...)
		*out = append(*out, '"')
		return k - 1
	}

	// Not a key (for example a bare literal such as true); leave it alone.
	return j - 1
}

func skipSpace(in []rune, i int) int {
	for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t' || in[i] == '\r') {
		i++
	}
	return i
}

func isKeyStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isKeyRune(r rune) bool {
	return isKeyStart(r) || (r >= '0' && r <= '9')
}
