// Package classify maps observed host evidence (hostname, vendor, open
// ports) to a device type and icon using an ordered, database-driven rule
// table. Rules are cached with a short TTL so classification does not hit
// storage once per host.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/logging"
)

// DefaultCacheTTL is how long a rule snapshot stays valid. A rule edit
// may take up to one TTL period to take effect.
const DefaultCacheTTL = 60 * time.Second

// Device types used by the fallback cascade.
const (
	TypeServer  = "Server"
	TypeIoT     = "IoT Device"
	TypeNAS     = "NAS/Storage"
	TypeGeneric = "Generic"
	TypeUnknown = "unknown"
)

// RuleSource provides classification rules ordered by (priority, name).
// *db.DB satisfies this interface.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*db.ClassificationRule, error)
}

// rule is a compiled classification rule ready for matching.
type rule struct {
	name       string
	priority   int
	hostRe     *regexp.Regexp
	vendorRe   *regexp.Regexp
	ports      map[int]struct{}
	portList   []int
	deviceType string
	icon       string
}

// RuleCache holds a full-table snapshot of compiled rules, invalidated
// purely by age. It is injected into the Engine as a constructed
// dependency rather than living in package state.
type RuleCache struct {
	source RuleSource
	ttl    time.Duration

	mu       sync.Mutex
	snapshot []rule
	loadedAt time.Time
}

// NewRuleCache creates a rule cache over the given source. A zero ttl
// falls back to DefaultCacheTTL.
func NewRuleCache(source RuleSource, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RuleCache{source: source, ttl: ttl}
}

// rules returns the current snapshot, refreshing it when stale. Load
// failures are logged and the previous (possibly empty) snapshot is
// served, so classification itself never fails.
func (c *RuleCache) rules(ctx context.Context) []rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && time.Since(c.loadedAt) < c.ttl {
		return c.snapshot
	}

	raw, err := c.source.ListRules(ctx)
	if err != nil {
		logging.Error("Failed to load classification rules", "error", err)
		if c.snapshot == nil {
			return nil
		}
		return c.snapshot
	}

	compiled := make([]rule, 0, len(raw))
	for _, r := range raw {
		compiled = append(compiled, compileRule(r))
	}
	// The source orders by (priority, name); keep that guarantee even
	// for sources that don't.
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority < compiled[j].priority
		}
		return compiled[i].name < compiled[j].name
	})

	c.snapshot = compiled
	c.loadedAt = time.Now()
	return c.snapshot
}

// Invalidate drops the snapshot so the next read reloads.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

// RulePorts returns the deduplicated, sorted union of every port
// referenced by the current rule set. Recomputed per call; only the rule
// contents are cached.
func (c *RuleCache) RulePorts(ctx context.Context) []int {
	seen := make(map[int]struct{})
	for _, r := range c.rules(ctx) {
		for _, p := range r.portList {
			seen[p] = struct{}{}
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func compileRule(r *db.ClassificationRule) rule {
	c := rule{
		name:       r.Name,
		priority:   r.Priority,
		deviceType: r.DeviceType,
		icon:       r.Icon,
		ports:      make(map[int]struct{}, len(r.Ports)),
	}

	if r.PatternHostname != nil && *r.PatternHostname != "" {
		re, err := regexp.Compile("(?i)" + *r.PatternHostname)
		if err != nil {
			logging.Warn("Skipping invalid hostname pattern", "rule", r.Name, "error", err)
		} else {
			c.hostRe = re
		}
	}
	if r.PatternVendor != nil && *r.PatternVendor != "" {
		re, err := regexp.Compile("(?i)" + *r.PatternVendor)
		if err != nil {
			logging.Warn("Skipping invalid vendor pattern", "rule", r.Name, "error", err)
		} else {
			c.vendorRe = re
		}
	}
	for _, p := range r.Ports {
		c.ports[int(p)] = struct{}{}
		c.portList = append(c.portList, int(p))
	}
	return c
}

// Engine classifies hosts using cached rules plus a fixed cascade of
// port-signature heuristics.
type Engine struct {
	cache *RuleCache
}

// NewEngine creates a classification engine over the given rule cache.
func NewEngine(cache *RuleCache) *Engine {
	return &Engine{cache: cache}
}

// Fallback port signatures, checked in order after the rule table.
var (
	serverPorts  = []int{22, 23, 21, 25, 53, 5900}
	iotPorts     = []int{1883, 8883, 5683, 6053}
	storagePorts = []int{139, 445, 548}
	webPorts     = []int{80, 443, 8080, 8443, 8123, 8006, 9000, 9443, 32400, 8096}
)

// Classify returns (device type, icon) for the given evidence. It never
// fails; hosts that match nothing classify as "unknown".
func (e *Engine) Classify(ctx context.Context, hostname, vendor string, ports []int) (deviceType, icon string) {
	hostname = strings.ToLower(hostname)
	vendor = strings.ToLower(vendor)

	rules := e.cache.rules(ctx)
	for i := range rules {
		if rules[i].matches(hostname, vendor, ports) {
			return rules[i].deviceType, rules[i].icon
		}
	}

	if containsAny(ports, serverPorts) {
		return TypeServer, IconFor(TypeServer)
	}
	if containsAny(ports, iotPorts) {
		return TypeIoT, IconFor(TypeIoT)
	}
	if containsAny(ports, storagePorts) {
		return TypeNAS, IconFor(TypeNAS)
	}
	if containsAny(ports, webPorts) {
		return TypeGeneric, IconFor(TypeGeneric)
	}

	// Any open port at all still means something is listening; surface
	// the lowest port as the primary service.
	if len(ports) > 0 {
		sorted := append([]int(nil), ports...)
		sort.Ints(sorted)
		return fmt.Sprintf("Service (%d)", sorted[0]), IconFor(TypeGeneric)
	}

	return TypeUnknown, IconFor(TypeUnknown)
}

// matches tests a rule against host evidence: hostname pattern first,
// then vendor pattern, then port intersection. First hit wins.
func (r *rule) matches(hostname, vendor string, ports []int) bool {
	if r.hostRe != nil && r.hostRe.MatchString(hostname) {
		return true
	}
	if r.vendorRe != nil && r.vendorRe.MatchString(vendor) {
		return true
	}
	if len(r.ports) > 0 {
		for _, p := range ports {
			if _, ok := r.ports[p]; ok {
				return true
			}
		}
	}
	return false
}

func containsAny(have, want []int) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
