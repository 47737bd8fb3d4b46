package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/academia/core/attendance"
)

// sweep closes the day given as YYYY-MM-DD in the academy time zone, or today.
func (cli *commandLine) sweep(date string) error {
	loc := cli.conf.Attendance.Location
	if loc == nil {
		loc = time.UTC
	}
	day := nowFunc().In(loc)
	if date != "" {
		var err error
		if day, err = time.ParseInLocation(attendance.DateLayout, date, loc); err != nil {
			return fmt.Errorf("invalid date %q: must be formatted as YYYY-MM-DD", date)
		}
	}

	summary, err := cli.sweeper.Sweep(context.Background(), day)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}
