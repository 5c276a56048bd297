package model

import "time"

// UpdateManifest describes the latest signed build available for the running platform.
type UpdateManifest struct {
	Version     string
	DownloadURL string
	Signature   []byte
	Notes       string
	PubDate     *time.Time
}

// UpdateState is a state of the update state machine.
type UpdateState int

const (
	UpdateIdle UpdateState = iota
	UpdateChecking
	UpdateNoUpdate
	UpdateAvailable
	UpdateDownloading
	UpdateVerifying
	UpdateReady
	UpdateInstalling
	UpdateRestarting
	UpdateFailed
)

func (s UpdateState) String() string {
	switch s {
	case UpdateIdle:
		return "idle"
	case UpdateChecking:
		return "checking"
	case UpdateNoUpdate:
		return "no_update"
	case UpdateAvailable:
		return "available"
	case UpdateDownloading:
		return "downloading"
	case UpdateVerifying:
		return "verifying"
	case UpdateReady:
		return "ready"
	case UpdateInstalling:
		return "installing"
	case UpdateRestarting:
		return "restarting"
	case UpdateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress reports bytes transferred during a download. Total is -1 when unknown.
type Progress struct {
	Downloaded int64
	Total      int64
}
