package accel

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func readCgroupFile(procRoot string, pid uint32) string {
	b, err := os.ReadFile(filepath.Join(procRoot, strconv.FormatUint(uint64(pid), 10), "cgroup"))
	if err != nil {
		return ""
	}
	return string(b)
}

// CgroupPathFromFile returns the path of the last entry in a
// /proc/<pid>/cgroup file ("hierarchy-ID:controllers:path") that has a
// non-empty path.
func CgroupPathFromFile(contents string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(contents))
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 || parts[2] == "" {
			continue
		}
		last = parts[2]
	}
	return last
}

// ContainerIDFromCgroup guesses a container identifier as the last
// non-empty segment of the last cgroup path. This is a heuristic: it
// does not understand cgroup v1/v2 runtime naming schemes and may
// return a slice or unit name rather than a container ID.
func ContainerIDFromCgroup(contents string) string {
	segs := strings.Split(CgroupPathFromFile(contents), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return segs[i]
		}
	}
	return ""
}
