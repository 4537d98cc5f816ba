package endstops

import "errors"

// ErrNoTimeSource is returned by Query when the registry has no toolhead
var ErrNoTimeSource = errors.New("no time source configured")
