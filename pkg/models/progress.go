package models

import "time"

// Progress is a periodic snapshot of a running job
type Progress struct {
	JobID string
	Mode  JobMode
	State string

	TotalBytes     int64
	ProcessedBytes int64
	TotalFiles     int
	ProcessedFiles int
	TotalDirs      int
	ProcessedDirs  int

	// CurrentSource and CurrentDest are only set when the pair changed
	// since the previous snapshot
	CurrentSource string
	CurrentDest   string

	Elapsed time.Duration
	// Speed is the average transfer rate in bytes per second
	Speed int64
}

// PairChanged reports whether the snapshot carries a new current pair
func (p *Progress) PairChanged() bool {
	return p.CurrentSource != "" || p.CurrentDest != ""
}
