package models

const UnassignedWindow = "unassigned"

// WindowQueue is one window's slice of the staff-facing queue.
type WindowQueue struct {
	WindowNo   string   `json:"window_no"`
	InProgress []Ticket `json:"in_progress"`
	Called     []Ticket `json:"called"`
	Waiting    []Ticket `json:"waiting"`
}

type Slot struct {
	Time      string `json:"time"`
	Hour      int    `json:"hour"`
	Booked    int    `json:"booked"`
	Capacity  int    `json:"capacity"`
	Available bool   `json:"available"`
}
