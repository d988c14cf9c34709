package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// PIDLookup finds the process holding the socket at addr.
type PIDLookup func(addr string) (int, error)

// lsof cuts the COMMAND column to this many characters by default.
const lsofCommandWidth = 9

// HostPID returns a lookup that only accepts processes whose command name is
// command. An empty command accepts any process other than this one.
func HostPID(command string) PIDLookup {
	return func(addr string) (int, error) {
		return LookupPID(addr, command)
	}
}

// LookupPID asks lsof which process named command has the unix socket at
// addr open.
func LookupPID(addr, command string) (int, error) {
	out, err := exec.Command("lsof", "-U", addr).Output()
	if err != nil && len(out) == 0 {
		return 0, fmt.Errorf("lsof %s: %w", addr, err)
	}
	return parseLsof(out, os.Getpid(), command)
}

// parseLsof scans lsof output (COMMAND PID USER ...) for the first PID other
// than self whose command matches.
func parseLsof(out []byte, self int, command string) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "COMMAND") {
				continue
			}
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || !commandMatches(fields[0], command) {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || pid == self {
			continue
		}
		return pid, nil
	}
	if command != "" {
		return 0, fmt.Errorf("no %s process holds the socket", command)
	}
	return 0, fmt.Errorf("no process holds the socket")
}

func commandMatches(column, command string) bool {
	if command == "" || column == command {
		return true
	}
	return len(column) >= lsofCommandWidth && strings.HasPrefix(command, column)
}
