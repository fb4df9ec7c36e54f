// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseOpenAIHeaders extracts rate limit info from OpenAI API headers.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfter(headers)}

	// OpenAI reports resets as durations such as "1s" or "6m0s".
	for _, h := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if v := headers.Get(h); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				info.ResetTime = time.Now().Add(d).Unix()
				break
			}
		}
	}

	info.RequestsRemaining = atoiHeader(headers, "x-ratelimit-remaining-requests")
	info.TokensRemaining = atoiHeader(headers, "x-ratelimit-remaining-tokens")
	return info
}

// ParseAnthropicHeaders extracts rate limit info from Anthropic API headers.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfter(headers)}

	for _, h := range []string{
		"anthropic-ratelimit-requests-reset",
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
	} {
		if v := headers.Get(h); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				info.ResetTime = t.Unix()
				break
			}
		}
	}

	info.RequestsRemaining = atoiHeader(headers, "anthropic-ratelimit-requests-remaining")
	info.InputTokensRemaining = atoiHeader(headers, "anthropic-ratelimit-input-tokens-remaining")
	info.OutputTokensRemaining = atoiHeader(headers, "anthropic-ratelimit-output-tokens-remaining")
	return info
}

func parseRetryAfter(headers http.Header) time.Duration {
	v := strings.TrimSpace(headers.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func atoiHeader(headers http.Header, key string) int {
	n, _ := strconv.Atoi(headers.Get(key))
	return n
}
