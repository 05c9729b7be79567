package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Moscow")
	if err != nil {
		panic(err)
	}
}

// the portal renders every date in Moscow time no matter where
// our workers run, so date arithmetic based on
// <time.Time>.Year()/Month()/Day() has to happen in MSK or week
// boundaries drift by a day on non-MSK hosts
func Now() time.Time {
	return time.Now().In(Location)
}

// Date builds a midnight timestamp in the portal's timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location)
}
