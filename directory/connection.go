// Package directory provides the per-cycle LDAP connection and the
// capability probe used to classify the connected directory's flavor.
package directory

import (
	"fmt"
	"net"
	"strings"

	"identra/metadir/config"

	"github.com/go-ldap/ldap/v3"
)

// Client is the request surface the import and export engines depend on.
// One Client is opened per synchronization cycle and shared by both
// phases; requests are issued sequentially against it.
type Client interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Delete(req *ldap.DelRequest) error
	Rename(req *ldap.ModifyDNRequest) error
	Close() error
}

// Connection wraps one authenticated ldap.Conn. The cycle that opened it
// owns it exclusively and must release it with Close on every exit path.
type Connection struct {
	conn *ldap.Conn
}

var _ Client = (*Connection)(nil)

// Connect dials and authenticates per the configured settings.
func Connect(settings config.Settings) (*Connection, error) {
	bindURL := fmt.Sprintf("ldap://%s:%d", settings.Host, settings.Port)
	conn, err := ldap.DialURL(bindURL, ldap.DialWithDialer(&net.Dialer{Timeout: settings.ConnectTimeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", bindURL, err)
	}

	// Long-running searches get their own limit, distinct from the dial
	// timeout above.
	conn.SetTimeout(settings.SearchTimeout)

	switch settings.AuthType {
	case config.AuthNTLM:
		domain, username := splitDomainUser(settings.Username)
		err = conn.NTLMBind(domain, username, settings.Password)
	default:
		err = conn.Bind(settings.Username, settings.Password)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", bindURL, err)
	}

	return &Connection{conn: conn}, nil
}

// splitDomainUser splits DOMAIN\user credentials for NTLM binds; a bare
// username yields an empty domain.
func splitDomainUser(username string) (string, string) {
	if idx := strings.Index(username, `\`); idx >= 0 {
		return username[:idx], username[idx+1:]
	}
	return "", username
}

func (c *Connection) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return c.conn.Search(req)
}

func (c *Connection) Add(req *ldap.AddRequest) error {
	return c.conn.Add(req)
}

func (c *Connection) Modify(req *ldap.ModifyRequest) error {
	return c.conn.Modify(req)
}

func (c *Connection) Delete(req *ldap.DelRequest) error {
	return c.conn.Del(req)
}

func (c *Connection) Rename(req *ldap.ModifyDNRequest) error {
	return c.conn.ModifyDN(req)
}

func (c *Connection) Close() error {
	return c.conn.Close()
}
