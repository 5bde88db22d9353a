// Package models defines the directory records and playback descriptors
// shared by the session controller, the sync service and the storage layer.
package models
