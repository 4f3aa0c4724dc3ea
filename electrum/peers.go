package electrum

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// onionSuffix marks hidden service hosts, which we have no transport for.
const onionSuffix = ".onion"

// ParsePeers normalises a server.peers.subscribe reply into node addresses
// for transport t. Three entry shapes are understood:
//
//   - "host", which gets the default port of t.
//   - [port, host], where port is a number or a numeric string.
//   - [ip, hostname, [features...]], the standard Electrum form. The port is
//     taken from the s<port> or t<port> feature matching t.
//
// Onion hosts, malformed entries and duplicate hosts are dropped. The number
// of dropped entries is returned alongside the result.
func ParsePeers(raw any, t Transport) ([]NodeAddr, int) {
	entries, ok := toSlice(raw)
	if !ok {
		return nil, 0
	}

	var (
		peers   = make([]NodeAddr, 0, len(entries))
		seen    = make(map[string]struct{}, len(entries))
		skipped int
	)
	for _, entry := range entries {
		addr, err := parsePeerEntry(entry, t)
		if err != nil {
			log.Tracef("Skipping peer entry %v: %v", entry, err)
			skipped++

			continue
		}

		if _, ok := seen[addr.ID()]; ok {
			skipped++
			continue
		}
		seen[addr.ID()] = struct{}{}

		peers = append(peers, addr)
	}

	return peers, skipped
}

// parsePeerEntry converts a single peer entry.
func parsePeerEntry(entry any, t Transport) (NodeAddr, error) {
	addr := NodeAddr{Port: DefaultPort(t), Transport: t}

	if host, ok := entry.(string); ok {
		addr.Host = strings.TrimSpace(host)
		return addr, checkPeerHost(addr.Host)
	}

	fields, ok := toSlice(entry)
	if !ok {
		return NodeAddr{}, fmt.Errorf("unsupported entry type %T", entry)
	}

	switch len(fields) {
	// [port, host]
	case 2:
		port, err := parsePort(fields[0])
		if err != nil {
			return NodeAddr{}, err
		}
		host, ok := fields[1].(string)
		if !ok {
			return NodeAddr{}, fmt.Errorf("host is %T", fields[1])
		}

		addr.Host = strings.TrimSpace(host)
		addr.Port = port

	// [ip, hostname, [features...]]
	case 3:
		ip, _ := fields[0].(string)
		hostname, _ := fields[1].(string)

		addr.Host = strings.TrimSpace(hostname)
		if addr.Host == "" {
			addr.Host = strings.TrimSpace(ip)
		}

		features, ok := toSlice(fields[2])
		if !ok {
			return NodeAddr{}, fmt.Errorf("features are %T",
				fields[2])
		}

		port, err := featurePort(features, t)
		if err != nil {
			return NodeAddr{}, err
		}
		addr.Port = port

	default:
		return NodeAddr{}, fmt.Errorf("unexpected entry length %d",
			len(fields))
	}

	return addr, checkPeerHost(addr.Host)
}

// featurePort finds the port advertised for transport t in a peer feature
// list such as ["v1.4", "s50002", "t50001"].
func featurePort(features []any, t Transport) (uint16, error) {
	prefix := "s"
	if t == TransportTCP {
		prefix = "t"
	}

	for _, f := range features {
		feature, ok := f.(string)
		if !ok || !strings.HasPrefix(feature, prefix) {
			continue
		}

		portStr := strings.TrimPrefix(feature, prefix)
		if portStr == "" {
			return DefaultPort(t), nil
		}

		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			// Not a port feature, e.g. a future flag that shares
			// the prefix.
			continue
		}

		return uint16(port), nil
	}

	return 0, fmt.Errorf("no %v port advertised", t)
}

// parsePort accepts a JSON number or a numeric string.
func parsePort(v any) (uint16, error) {
	var s string
	switch p := v.(type) {
	case float64:
		s = strconv.FormatFloat(p, 'f', -1, 64)
	case int:
		s = strconv.Itoa(p)
	case int64:
		s = strconv.FormatInt(p, 10)
	case json.Number:
		s = p.String()
	case string:
		s = strings.TrimSpace(p)
	default:
		return 0, fmt.Errorf("port is %T", v)
	}

	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}

	return uint16(port), nil
}

// checkPeerHost rejects hosts we can not dial.
func checkPeerHost(host string) error {
	switch {
	case host == "":
		return fmt.Errorf("empty host")

	case strings.HasSuffix(strings.ToLower(host), onionSuffix):
		return fmt.Errorf("onion host %v", host)

	case strings.ContainsAny(host, " /"):
		return fmt.Errorf("malformed host %q", host)
	}

	return nil
}

// toSlice converts the generic JSON array shapes the client may hand us into
// []any.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true

	case [][]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true

	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true

	case json.RawMessage:
		var out []any
		if err := json.Unmarshal(s, &out); err != nil {
			return nil, false
		}
		return out, true

	default:
		return nil, false
	}
}
