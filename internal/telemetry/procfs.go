package telemetry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// cpuTotals is one reading of the aggregate cpu line in /proc/stat.
type cpuTotals struct {
	busy  uint64
	total uint64
}

// readCPUTotals parses the first line of /proc/stat.
func readCPUTotals() (cpuTotals, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuTotals{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return cpuTotals{}, fmt.Errorf("empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTotals{}, fmt.Errorf("unexpected /proc/stat line %q", scanner.Text())
	}

	var t cpuTotals
	for i, raw := range fields[1:] {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return cpuTotals{}, fmt.Errorf("parse /proc/stat field: %w", err)
		}
		t.total += v
		// Fields 4 and 5 are idle and iowait.
		if i != 3 && i != 4 {
			t.busy += v
		}
	}
	return t, nil
}

// cpuPercentBetween computes utilization between two readings.
func cpuPercentBetween(prev, cur cpuTotals) float64 {
	dTotal := cur.total - prev.total
	if dTotal == 0 {
		return 0
	}
	return 100 * float64(cur.busy-prev.busy) / float64(dTotal)
}

// readMemoryPercent parses MemTotal and MemAvailable from /proc/meminfo.
// Returns used percent and total KB.
func readMemoryPercent() (float64, uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
		if total > 0 && available > 0 {
			break
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("no MemTotal in /proc/meminfo")
	}
	return 100 * float64(total-available) / float64(total), total, nil
}

// readDiskPercent reports used space on the filesystem holding the root.
func readDiskPercent(mount string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(mount, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := st.Blocks - st.Bavail
	return 100 * float64(used) / float64(st.Blocks), nil
}

// readUptimeSeconds parses /proc/uptime.
func readUptimeSeconds() (int64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/uptime")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return int64(secs), nil
}

// procTicks is one reading of a process's cumulative CPU ticks plus its
// resident set, straight from /proc/<pid>/stat and statm.
type procTicks struct {
	pid   int
	name  string
	ticks uint64
	rssKB uint64
}

// listProcTicks walks /proc for numeric entries. Processes that vanish
// mid-walk are skipped silently.
func listProcTicks() ([]procTicks, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	pageKB := uint64(os.Getpagesize() / 1024)
	var out []procTicks
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pt, err := readProcTicks(pid, pageKB)
		if err != nil {
			continue
		}
		out = append(out, pt)
	}
	return out, nil
}

func readProcTicks(pid int, pageKB uint64) (procTicks, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return procTicks{}, err
	}
	// The comm field is parenthesized and may contain spaces; everything
	// after the closing paren is space-delimited.
	s := string(data)
	start := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if start < 0 || end < 0 || end < start {
		return procTicks{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	name := s[start+1 : end]
	rest := strings.Fields(s[end+1:])
	// rest[0] is state; utime and stime are fields 14 and 15 of the full
	// line, i.e. rest[11] and rest[12].
	if len(rest) < 13 {
		return procTicks{}, fmt.Errorf("short stat for pid %d", pid)
	}
	utime, _ := strconv.ParseUint(rest[11], 10, 64)
	stime, _ := strconv.ParseUint(rest[12], 10, 64)

	var rssKB uint64
	if statm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "statm")); err == nil {
		fields := strings.Fields(string(statm))
		if len(fields) >= 2 {
			pages, _ := strconv.ParseUint(fields[1], 10, 64)
			rssKB = pages * pageKB
		}
	}

	return procTicks{pid: pid, name: name, ticks: utime + stime, rssKB: rssKB}, nil
}
