// Package proclist finds running cadenza server and worker processes by scanning the OS
// process table for the fingerprint argument every such process is launched with.
package proclist

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Marker is the argument that identifies a cadenza-managed process.
const Marker = "--cadenza-fingerprint"

// UnknownPort is the port of a process whose command line carries no --port.
const UnknownPort = -1

type Role string

const (
	RoleServer  Role = "server"
	RoleWorker  Role = "worker"
	RoleUnknown Role = "unknown"
)

// Record is one process found in a listing.
type Record struct {
	PID  int  `json:"pid" yaml:"pid"`
	Port int  `json:"port" yaml:"port"`
	Role Role `json:"role" yaml:"role"`
}

// ParseLine reads one "pid args..." line. Lines without Marker are rejected.
func ParseLine(line string) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return Record{}, false
	}
	args := fields[1:]

	marked := false
	for _, arg := range args {
		if arg == Marker {
			marked = true
			break
		}
	}
	if !marked {
		return Record{}, false
	}

	return Record{PID: pid, Port: portOf(args), Role: roleOf(args)}, true
}

// ParseListing parses every line of a process listing.
func ParseListing(out []byte) []Record {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if record, ok := ParseLine(scanner.Text()); ok {
			records = append(records, record)
		}
	}
	return records
}

func portOf(args []string) int {
	for i, arg := range args {
		value := ""
		switch {
		case arg == "--port" && i+1 < len(args):
			value = args[i+1]
		case strings.HasPrefix(arg, "--port="):
			value = strings.TrimPrefix(arg, "--port=")
		default:
			continue
		}
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 {
			return UnknownPort
		}
		return port
	}
	return UnknownPort
}

// roleOf checks worker first: a worker's command line may also mention its server.
func roleOf(args []string) Role {
	server := false
	for _, arg := range args {
		switch arg {
		case string(RoleWorker):
			return RoleWorker
		case string(RoleServer):
			server = true
		}
	}
	if server {
		return RoleServer
	}
	return RoleUnknown
}
