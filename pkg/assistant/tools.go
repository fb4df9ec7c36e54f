package assistant

import (
	"time"

	"github.com/shiroai/shiro/pkg/instruction"
	"github.com/shiroai/shiro/pkg/tool"
	"github.com/shiroai/shiro/pkg/tool/functiontool"
)

type currentTimeArgs struct {
	TimeZone string `json:"time_zone,omitempty" jsonschema:"description=IANA time zone such as Europe/London. Defaults to the assistant's zone."`
}

// newCurrentTimeTool returns the current_time tool. now and loc are the
// clock and default zone of the runner.
func newCurrentTimeTool(now func() time.Time, loc *time.Location) (tool.CallableTool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "current_time",
		Description: "Returns the current date and time. Use it to resolve relative dates such as today or next Monday.",
	}, func(_ tool.Context, args currentTimeArgs) (map[string]any, error) {
		zone := loc
		if args.TimeZone != "" {
			l, err := instruction.LoadLocation(args.TimeZone)
			if err != nil {
				return nil, err
			}
			zone = l
		}
		data := instruction.NewData(now(), zone)
		return map[string]any{
			"now":       data.Now,
			"date":      data.Date,
			"weekday":   data.Weekday,
			"time_zone": data.Location,
		}, nil
	})
}
