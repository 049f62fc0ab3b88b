package directory

import (
	"fmt"
	"strconv"

	"github.com/go-ldap/ldap/v3"
)

// Flavor classifies how the connected directory exposes change tracking.
type Flavor int

const (
	// FlavorSequenceCounter marks directories that stamp every object
	// with a monotonic update sequence number and publish the highest
	// committed one on the Root DSE.
	FlavorSequenceCounter Flavor = iota
	// FlavorChangelog marks directories that expose an ordered changelog
	// container of queryable change entries instead.
	FlavorChangelog
)

// ServerInfo is the Root DSE snapshot used to build a cycle's watermark.
type ServerInfo struct {
	DNSHostName         string
	HighestCommittedUSN *int64
	LastChangeNumber    *int64
	SupportsPaging      bool
}

// Flavor derives the change-tracking flavor from the advertised counters.
func (s *ServerInfo) Flavor() Flavor {
	if s.HighestCommittedUSN != nil {
		return FlavorSequenceCounter
	}
	return FlavorChangelog
}

// FetchServerInfo probes the Root DSE for the host name, change-tracking
// counters and supported controls.
func FetchServerInfo(client Client) (*ServerInfo, error) {
	req := ldap.NewSearchRequest(
		"", // Root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{"dnsHostName", "highestCommittedUSN", "lastChangeNumber", "supportedControl"},
		nil,
	)

	res, err := client.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Root DSE: %w", err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("Root DSE search returned no entries")
	}
	entry := res.Entries[0]

	info := &ServerInfo{
		DNSHostName: entry.GetAttributeValue("dnsHostName"),
	}

	if v := entry.GetAttributeValue("highestCommittedUSN"); v != "" {
		usn, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error converting highestCommittedUSN to int: %w", err)
		}
		info.HighestCommittedUSN = &usn
	}

	if v := entry.GetAttributeValue("lastChangeNumber"); v != "" {
		num, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error converting lastChangeNumber to int: %w", err)
		}
		info.LastChangeNumber = &num
	}

	for _, oid := range entry.GetAttributeValues("supportedControl") {
		if oid == ldap.ControlTypePaging {
			info.SupportsPaging = true
			break
		}
	}

	return info, nil
}
