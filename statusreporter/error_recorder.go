package statusreporter

import (
	"fmt"
)

// RecordError executes the provided function and records any error as the
// line's status, so a failed step stays visible until the next pass.
//
//	err := statusreporter.RecordError(line, func() error {
//	    line.Set("importing schema")
//	    return importSchema(ctx)
//	})
func RecordError(line *StatusLine, f func() error) error {
	if err := f(); err != nil {
		line.Set(fmt.Sprintf("failed: %v", err))
		return err
	}
	return nil
}
