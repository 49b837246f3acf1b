package types

import (
	"math"
	"time"
)

const (
	MinUtilization = 0
	MaxUtilization = 100
)

// SessionReport describes one finished load session.
type SessionReport struct {
	ID                   string    `json:"id"`
	RequestedUtilization int       `json:"requestedUtilization"`
	Utilization          int       `json:"utilization"`
	Workers              int       `json:"workers"`
	Iterations           int       `json:"iterations"`
	StartedAt            time.Time `json:"startedAt"`
	ElapsedSeconds       float64   `json:"elapsedSeconds"`
	Canceled             bool      `json:"canceled"`
}

func (s SessionReport) Elapsed() time.Duration {
	return time.Duration(math.Round(s.ElapsedSeconds * float64(time.Second)))
}

// ClampUtilization bounds u to [MinUtilization, MaxUtilization].
func ClampUtilization(u int) int {
	if u < MinUtilization {
		return MinUtilization
	}
	if u > MaxUtilization {
		return MaxUtilization
	}
	return u
}

// ActiveSession is a load session whose workers have not all returned yet.
type ActiveSession struct {
	ID          string    `json:"id"`
	Utilization int       `json:"utilization"`
	Workers     int       `json:"workers"`
	StartedAt   time.Time `json:"startedAt"`
}

// SessionList is the body of GET /sessions.
type SessionList struct {
	Active []ActiveSession `json:"active"`
	Recent []SessionReport `json:"recent"`
}
