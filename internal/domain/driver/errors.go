package driver

import "errors"

var (
	ErrDriverNotFound      = errors.New("driver not found")
	ErrInvalidDriverStatus = errors.New("invalid driver status")
	ErrNoAvailability      = errors.New("driver availability unknown")
)
