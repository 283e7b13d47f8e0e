package service

import "errors"

var (
	ErrNotFound           = errors.New("error not found")
	ErrValidation         = errors.New("validation error")
	ErrInsufficientShares = errors.New("error insufficient shares")
	ErrInsufficientCash   = errors.New("error insufficient cash")
	ErrAlreadyExists      = errors.New("error already exists")
)
