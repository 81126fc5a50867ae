// Package directory wraps the external LDAP collaborator. The service only
// needs two things from it: a credential-validating bind and the principal's
// group names. Transport failures and bad credentials stay distinct at this
// boundary; the auth service collapses them before anything reaches a client.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrBindFailed means the directory rejected the credentials.
	ErrBindFailed = errors.New("directory bind rejected")
	// ErrUnavailable means the directory could not be reached or answered with
	// a protocol error. Logged in detail, collapsed upstream.
	ErrUnavailable = errors.New("directory unavailable")
)

type Client interface {
	// Bind validates principal+secret by binding as principal@domain. It never
	// uses the administrative service account.
	Bind(ctx context.Context, principal, secret string) error
	// GroupsOf returns the principal's group names (CN values), using the
	// administrative bind for browsing.
	GroupsOf(ctx context.Context, principal string) ([]string, error)
}

type Config struct {
	Addr               string
	Domain             string
	BaseDN             string
	BindDN             string
	BindSecret         string
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
}

type LDAPClient struct {
	cfg    Config
	logger *slog.Logger
}

func NewLDAPClient(cfg Config, logger *slog.Logger) *LDAPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &LDAPClient{cfg: cfg, logger: logger}
}

func (c *LDAPClient) Bind(ctx context.Context, principal, secret string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("directory dial failed", "addr", c.cfg.Addr, "error", err)
		return ErrUnavailable
	}
	defer conn.Close()

	upn := fmt.Sprintf("%s@%s", principal, c.cfg.Domain)
	if err := conn.Bind(upn, secret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return ErrBindFailed
		}
		c.logger.Error("directory bind failed with protocol error", "addr", c.cfg.Addr, "principal", principal, "error", err)
		return ErrUnavailable
	}
	return nil
}

func (c *LDAPClient) GroupsOf(ctx context.Context, principal string) ([]string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("directory dial failed", "addr", c.cfg.Addr, "error", err)
		return nil, ErrUnavailable
	}
	defer conn.Close()

	if c.cfg.BindDN != "" {
		if err := conn.Bind(c.cfg.BindDN, c.cfg.BindSecret); err != nil {
			c.logger.Error("directory service-account bind failed", "addr", c.cfg.Addr, "bind_dn", c.cfg.BindDN, "error", err)
			return nil, ErrUnavailable
		}
	}

	filter := fmt.Sprintf(
		"(&(objectClass=user)(|(userPrincipalName=%s@%s)(sAMAccountName=%s)))",
		ldap.EscapeFilter(principal), ldap.EscapeFilter(c.cfg.Domain), ldap.EscapeFilter(principal),
	)
	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(c.cfg.Timeout.Seconds()), false,
		filter,
		[]string{"memberOf"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		c.logger.Error("directory group search failed", "addr", c.cfg.Addr, "principal", principal, "error", err)
		return nil, ErrUnavailable
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}

	var groups []string
	for _, dn := range res.Entries[0].GetAttributeValues("memberOf") {
		if name := groupNameFromDN(dn); name != "" {
			groups = append(groups, name)
		}
	}
	return groups, nil
}

func (c *LDAPClient) dial(ctx context.Context) (*ldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := ldap.DialURL(c.cfg.Addr, ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(c.cfg.Timeout)
	if c.cfg.StartTLS {
		tlsCfg := &tls.Config{
			ServerName:         hostOnly(c.cfg.Addr),
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		}
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// groupNameFromDN extracts the CN of the leading RDN, e.g.
// "CN=Hotel Managers,OU=Groups,DC=stayforge,DC=local" -> "Hotel Managers".
func groupNameFromDN(dn string) string {
	first, _, _ := strings.Cut(dn, ",")
	key, value, ok := strings.Cut(first, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "cn") {
		return ""
	}
	return strings.TrimSpace(value)
}

func hostOnly(addr string) string {
	trimmed := addr
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		return host
	}
	return trimmed
}
