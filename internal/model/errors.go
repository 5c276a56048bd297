package model

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy. Packages wrap these with goerr.Wrap so callers can test with errors.Is.
var (
	ErrNotFound                    = goerr.New("not found")
	ErrPermissionDenied            = goerr.New("permission denied")
	ErrInvalidName                 = goerr.New("invalid name")
	ErrInvalidItemType             = goerr.New("invalid item type")
	ErrAlreadyExists               = goerr.New("already exists")
	ErrNetwork                     = goerr.New("network error")
	ErrSignatureVerificationFailed = goerr.New("signature verification failed")
	ErrStorage                     = goerr.New("storage error")
	ErrNotLoaded                   = goerr.New("settings not loaded")
	ErrNoUpdateAvailable           = goerr.New("no update available")
)
