package repository

import "errors"

// Sentinel kinds for repository errors. Lookups of missing domain objects
// return the owning domain package's not-found error instead.
var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrRoundMissing  = errors.New("settlement references an unknown round")
)
