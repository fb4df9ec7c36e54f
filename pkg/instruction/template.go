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

// Package instruction renders agent instruction templates.
//
// Instructions are Go text/template strings rendered once per invocation:
//
//	tmpl, _ := instruction.New("Current date and time in {{.Zone}}: {{.Now}}.")
//	text, err := tmpl.Render(instruction.NewData(time.Now(), loc))
//	// "Current date and time in IST: 2025-04-01 09:30:00 IST."
//
// Unknown fields are an error. Check runs a template once so that a typo in a
// configured instruction is reported when the configuration is loaded rather
// than on the first request.
package instruction

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata"
)

// DefaultTimeZone is used when no zone is configured.
const DefaultTimeZone = "Asia/Kolkata"

// TimeLayout formats Data.Now.
const TimeLayout = "2006-01-02 15:04:05 MST"

// Data is the value instruction templates are executed against.
type Data struct {
	// Now is the current time, formatted with TimeLayout.
	Now string
	// Date is the current date (2006-01-02).
	Date string
	// Weekday is the current day of week.
	Weekday string
	// Zone is the abbreviation of the configured time zone, e.g. IST.
	Zone string
	// Location is the IANA name of the configured time zone.
	Location string
}

// NewData builds Data for now in loc. A nil loc means UTC.
func NewData(now time.Time, loc *time.Location) Data {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	zone, _ := local.Zone()
	return Data{
		Now:      local.Format(TimeLayout),
		Date:     local.Format(time.DateOnly),
		Weekday:  local.Weekday().String(),
		Zone:     zone,
		Location: loc.String(),
	}
}

// LoadLocation resolves name, falling back to DefaultTimeZone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}

// Template is a parsed instruction.
type Template struct {
	raw  string
	tmpl *template.Template
}

// New parses raw.
func New(raw string) (*Template, error) {
	tmpl, err := template.New("instruction").Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction template: %w", err)
	}
	return &Template{raw: raw, tmpl: tmpl}, nil
}

// Raw returns the unparsed template.
func (t *Template) Raw() string {
	return t.raw
}

// Render executes the template against data.
func (t *Template) Render(data Data) (string, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render instruction: %w", err)
	}
	return sb.String(), nil
}

// Check executes the template once against the current time in loc and
// discards the output. It catches references to fields Data does not have,
// which parsing alone accepts.
func (t *Template) Check(loc *time.Location) error {
	if err := t.tmpl.Execute(io.Discard, NewData(time.Now(), loc)); err != nil {
		return fmt.Errorf("failed to render instruction: %w", err)
	}
	return nil
}

// Check parses raw and executes it once. See Template.Check.
func Check(raw string, loc *time.Location) error {
	t, err := New(raw)
	if err != nil {
		return err
	}
	return t.Check(loc)
}

// Render parses and executes raw in one step.
func Render(raw string, data Data) (string, error) {
	t, err := New(raw)
	if err != nil {
		return "", err
	}
	return t.Render(data)
}
