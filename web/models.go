package web

import "github.com/ShoshinNikita/thumbnailer/office"

type (
	VersionResponse struct {
		GitHash    string `json:"git_hash"`
		CommitTime string `json:"commit_time"`
	}

	OfficePoolResponse struct {
		// Targets contains the number of sessions per office target.
		Targets []office.TargetStats `json:"targets"`
	}
)
