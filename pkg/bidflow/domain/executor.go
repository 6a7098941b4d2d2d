package domain

import "time"

// Executor is an external task worker registered with the capability
// registry. ActiveItems counts assignments handed out and not yet reported
// back; assignment prefers the least loaded live executor.
type Executor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Group        string    `json:"group"`
	Capabilities []string  `json:"capabilities"`
	ActiveItems  int       `json:"activeItems"`
	Started      time.Time `json:"started"`
	LastActive   time.Time `json:"lastActive"`
}

// HasCapabilities reports whether the executor carries every required tag.
func (e *Executor) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range e.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
