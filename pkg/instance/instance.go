package instance

import "os"

// GetID identifies the running process in logs and lock values. It prefers
// CANTEEN_INSTANCE_ID, then the hostname.
func GetID() string {
	if id := os.Getenv("CANTEEN_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "canteen-0"
}
