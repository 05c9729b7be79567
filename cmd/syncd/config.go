package main

import (
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/snapshotstore"
	"dnevniksync/services/sync"
)

type AccountConfig struct {
	ID       string `json:"id"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type SyncdConfig struct {
	Port int `json:"port"`

	// Snapshot is the local record store, used unless Controller
	// points at a remote one.
	Snapshot   snapshotstore.Config        `json:"snapshot"`
	Controller *sync.RestControllerOptions `json:"controller"`
	Accounts   []AccountConfig             `json:"accounts"`

	Portal struct {
		BaseUrl    string `json:"base_url"`
		LoginUrl   string `json:"login_url"`
		SchoolsUrl string `json:"schools_url"`
	} `json:"portal"`

	// SyncIntervalMinutes is how often every account re-syncs, 0 means
	// 30.
	SyncIntervalMinutes int `json:"sync_interval_minutes"`
	// MinRequestIntervalMs paces portal requests per account, 0 means
	// 1000.
	MinRequestIntervalMs int `json:"min_request_interval_ms"`
	ScheduleWeeks        int `json:"schedule_weeks"`
	MaxParallelRuns      int `json:"max_parallel_runs"`
}

func (c SyncdConfig) portalOptions() dnevnik.ClientOptions {
	return dnevnik.ClientOptions{
		BaseUrl:    c.Portal.BaseUrl,
		LoginUrl:   c.Portal.LoginUrl,
		SchoolsUrl: c.Portal.SchoolsUrl,
	}
}
