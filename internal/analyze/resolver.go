package analyze

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const lookupTimeout = 2 * time.Second

// Resolver turns connection endpoints into display names for the report.
type Resolver interface {
	// Hostname resolves addr to a host name, returning addr itself when
	// reverse lookup fails.
	Hostname(addr string) string
	// Service names the service behind the connection, trying the source
	// port first and the destination port second. Unknown ports yield
	// "unknown".
	Service(srcPort, destPort uint16) string
}

// systemResolver answers from the system DNS resolver and the services
// database. Results are cached per address; not safe for concurrent use.
type systemResolver struct {
	resolver *net.Resolver
	services map[uint16]string
	hosts    map[string]string
}

// NewSystemResolver returns a Resolver backed by reverse DNS and
// /etc/services.
func NewSystemResolver() Resolver {
	return newSystemResolver("/etc/services")
}

func newSystemResolver(servicesPath string) *systemResolver {
	return &systemResolver{
		resolver: &net.Resolver{},
		services: loadServices(servicesPath),
		hosts:    make(map[string]string),
	}
}

func (r *systemResolver) Hostname(addr string) string {
	if name, ok := r.hosts[addr]; ok {
		return name
	}
	name := addr
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	if names, err := r.resolver.LookupAddr(ctx, addr); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}
	cancel()
	r.hosts[addr] = name
	return name
}

func (r *systemResolver) Service(srcPort, destPort uint16) string {
	if name, ok := r.services[srcPort]; ok {
		return name
	}
	if name, ok := r.services[destPort]; ok {
		return name
	}
	return "unknown"
}

// loadServices parses an /etc/services-style file into a port-to-name table.
// The first name listed for a port wins regardless of protocol, matching how
// getservbyport answers when no protocol is given. A missing file yields an
// empty table, so every port resolves to "unknown".
func loadServices(path string) map[uint16]string {
	table := make(map[uint16]string)
	f, err := os.Open(path)
	if err != nil {
		return table
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		portProto := strings.SplitN(fields[1], "/", 2)
		port, err := strconv.ParseUint(portProto[0], 10, 16)
		if err != nil {
			continue
		}
		if _, ok := table[uint16(port)]; !ok {
			table[uint16(port)] = fields[0]
		}
	}
	return table
}
