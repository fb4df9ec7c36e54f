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

// Package ratelimit limits how much each client may use the assistant.
//
// Limits are fixed windows (minute, hour, day, week, month) over two
// quantities: requests ("count") and LLM tokens ("token"). A client is the
// JWT subject when auth is on, else the remote IP. Usage lives in memory or
// in Redis, so several replicas can share one budget.
//
//	rate_limit:
//	  enabled: true
//	  scope: user
//	  limits:
//	    - type: count
//	      window: minute
//	      limit: 60
//	    - type: token
//	      window: day
//	      limit: 100000
//
// The HTTP middleware counts a request before it runs and rejects it with
// 429 once a window is used up. Token usage is only known afterwards, so
// the server calls Limiter.Record when a run completes.
package ratelimit
