package state

// Entry is the last successfully applied value for one configured record.
// Created on the first successful apply, overwritten on every one after
// that, never deleted automatically.
type Entry struct {
	IP        string `json:"ip"`
	UpdatedAt int64  `json:"updatedAt"`
}
