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

package ratelimit

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is wrapped by every LimitError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// LimitError reports a denied request together with the usage that
// caused it.
type LimitError struct {
	Result *CheckResult
}

func (e *LimitError) Error() string {
	if e.Result != nil && e.Result.Reason != "" {
		return e.Result.Reason
	}
	return ErrRateLimitExceeded.Error()
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// ResultFromError returns the CheckResult carried by err, if any.
func ResultFromError(err error) *CheckResult {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Result
	}
	return nil
}

func exceededReason(u Usage) string {
	return fmt.Sprintf("%s limit exceeded for %s window (%d/%d)", u.LimitType, u.Window, u.Current, u.Limit)
}
