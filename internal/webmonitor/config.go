package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr                string
	RecordingOutputPath string
	StatusInterval      time.Duration
	LogPageSize         int   // rows shown in the list view
	MaxLogLimit         int   // largest limit accepted by /api/violations
	MaxUploadBytes      int64 // size cap of uploaded videos
	Title               string
}

// DefaultConfig returns the stock dashboard settings.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		RecordingOutputPath: "./recordings",
		StatusInterval:      2 * time.Second,
		LogPageSize:         5,
		MaxLogLimit:         500,
		MaxUploadBytes:      512 << 20,
		Title:               "Real-Time Object Detection & Log Management",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.RecordingOutputPath == "" {
		c.RecordingOutputPath = def.RecordingOutputPath
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.LogPageSize <= 0 {
		c.LogPageSize = def.LogPageSize
	}
	if c.MaxLogLimit <= 0 {
		c.MaxLogLimit = def.MaxLogLimit
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.Title == "" {
		c.Title = def.Title
	}
	return c
}
