package header

import "errors"

// ErrMalformed is returned when a <Terse .../> element is missing a
// required attribute or carries an unparsable value.
var ErrMalformed = errors.New("header: malformed <Terse/> element")
