package sms

import "errors"

var (
	// ErrInvalidParameters reports malformed domain parameters: a non-prime
	// modulus or subgroup order, or a generator outside the order-q subgroup.
	ErrInvalidParameters = errors.New("domain parameters are invalid")
	ErrUnknownGroup      = errors.New("unknown domain parameter group")
	ErrUnknownHash       = errors.New("unknown message hash function")
	ErrUnknownSuite      = errors.New("unknown endorsement suite")
	ErrNoEndorsers       = errors.New("at least one endorser is required")
	ErrWrongSuite        = errors.New("key belongs to a different endorsement suite")
	ErrInvalidHashKey    = errors.New("hash key is not in the prime-order subgroup")
	ErrMalformedBundle   = errors.New("malformed signature bundle")
)
