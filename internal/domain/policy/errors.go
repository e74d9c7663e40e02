package policy

import "errors"

// ErrInvalidPolicy is returned when the policy file cannot be decoded or
// holds out of range values.
var ErrInvalidPolicy = errors.New("invalid policy")
