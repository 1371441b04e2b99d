//go:build !nvml

package accel

import "fmt"

func openNVML() (Library, error) {
	return nil, fmt.Errorf("nvml: built without the nvml tag: %w", ErrBackendAbsent)
}
