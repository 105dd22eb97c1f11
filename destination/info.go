package destination

import "time"

// Info is a point-in-time snapshot of a destination, used by the registry's
// admin enumeration.
type Info struct {
	ID                 string
	Name               string
	Type               Type
	Created            time.Time
	URI                string
	DataPath           string
	SubscriptionsCount int
	MessagesCount      int
}
