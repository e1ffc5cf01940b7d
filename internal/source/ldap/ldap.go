// famedly-sync - Zitadel user synchronization agent
// Copyright 2026 Famedly GmbH
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/famedly/sync-agent

// Package ldap reads the authoritative user set from a directory
// server. It connects with optional TLS/STARTTLS/mTLS, binds, pages
// through entries matching the configured filter (RFC 2696 simple paged
// results) and yields canonical users.
package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/famedly/sync-agent/internal/config"
	"github.com/famedly/sync-agent/internal/logging"
	"github.com/famedly/sync-agent/internal/model"
	"github.com/famedly/sync-agent/internal/source"
)

// pageSize is the RFC 2696 page size for the user search.
const pageSize = 500

// streamBuffer bounds how far the reader may run ahead of the engine.
const streamBuffer = 64

// Reader is the LDAP sync source.
type Reader struct {
	cfg config.LDAPSourceConfig
	log zerolog.Logger

	// dial is swapped out in tests.
	dial func() (ldapConn, error)
}

// ldapConn is the subset of *ldap.Conn the reader uses.
type ldapConn interface {
	Search(*goldap.SearchRequest) (*goldap.SearchResult, error)
	Close() error
}

// New creates an LDAP reader from the validated configuration.
func New(cfg *config.LDAPSourceConfig) *Reader {
	r := &Reader{
		cfg: *cfg,
		log: logging.With().Str("component", "ldap").Logger(),
	}
	r.dial = r.connect
	return r
}

// Name implements source.Source.
func (r *Reader) Name() string { return "ldap" }

// DeletesByAbsence implements source.Source. Deletions are computed by
// set difference only when the source tracks deleted entries.
func (r *Reader) DeletesByAbsence() bool { return r.cfg.CheckForDeletedEntries }

// Users implements source.Source. The connection and bind happen before
// this returns so that an unreachable server surfaces as a source
// error, not as a mid-stream failure.
func (r *Reader) Users(ctx context.Context) (<-chan source.Result, error) {
	conn, err := r.dial()
	if err != nil {
		return nil, fmt.Errorf("ldap connect failed: %w", err)
	}

	out := make(chan source.Result, streamBuffer)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()
		r.search(ctx, conn, out)
	}()
	return out, nil
}

// connect dials the configured URL, performs the optional STARTTLS
// upgrade and the simple bind.
func (r *Reader) connect() (ldapConn, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	tlsCfg, err := r.tlsConfig(u.Hostname())
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(r.cfg.Timeout) * time.Second
	dialer := &net.Dialer{Timeout: timeout}

	opts := []goldap.DialOpt{goldap.DialWithDialer(dialer)}
	if u.Scheme == "ldaps" {
		opts = append(opts, goldap.DialWithTLSConfig(tlsCfg))
	}

	conn, err := goldap.DialURL(r.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	conn.SetTimeout(timeout)

	if u.Scheme == "ldap" && r.cfg.TLS != nil && r.cfg.TLS.DangerUseStartTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if err := conn.Bind(r.cfg.BindDN, r.cfg.BindPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind as %s failed: %w", r.cfg.BindDN, err)
	}

	return conn, nil
}

// tlsConfig builds the TLS client configuration: pinned CA on top of
// the system pool, optional client keypair for mTLS.
func (r *Reader) tlsConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName}
	if r.cfg.TLS == nil {
		return cfg, nil
	}

	cfg.InsecureSkipVerify = r.cfg.TLS.DangerDisableTLSVerify

	if r.cfg.TLS.ServerCertificate != "" {
		pem, err := os.ReadFile(r.cfg.TLS.ServerCertificate)
		if err != nil {
			return nil, fmt.Errorf("failed to read server certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("invalid server certificate %s", r.cfg.TLS.ServerCertificate)
		}
		cfg.RootCAs = pool
	}

	if r.cfg.TLS.ClientCertificate != "" && r.cfg.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(r.cfg.TLS.ClientCertificate, r.cfg.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// search pages through the subtree and emits one Result per entry.
func (r *Reader) search(ctx context.Context, conn ldapConn, out chan<- source.Result) {
	attrs := []string{"*"}
	if r.cfg.UseAttributeFilter {
		attrs = attrs[:0]
		for _, name := range r.cfg.Attributes.Names() {
			if name != "" {
				attrs = append(attrs, name)
			}
		}
	}

	paging := goldap.NewControlPaging(pageSize)
	for {
		req := goldap.NewSearchRequest(
			r.cfg.BaseDN,
			goldap.ScopeWholeSubtree,
			goldap.NeverDerefAliases,
			0,
			int(r.cfg.Timeout),
			false,
			r.cfg.UserFilter,
			attrs,
			[]goldap.Control{paging},
		)

		res, err := conn.Search(req)
		if err != nil {
			r.emit(ctx, out, source.Result{Err: fmt.Errorf("ldap search failed: %w", err)})
			return
		}

		for _, entry := range res.Entries {
			user, err := r.parseEntry(entry)
			if err != nil {
				r.log.Debug().Str("dn", entry.DN).Msg("entry skipped")
				if !r.emit(ctx, out, source.Result{Err: err}) {
					return
				}
				continue
			}
			if !r.emit(ctx, out, source.Result{User: user}) {
				return
			}
		}

		ctl := goldap.FindControl(res.Controls, goldap.ControlTypePaging)
		pagingResult, ok := ctl.(*goldap.ControlPaging)
		if !ok || len(pagingResult.Cookie) == 0 {
			return
		}
		paging.SetCookie(pagingResult.Cookie)
	}
}

// emit sends a result unless the run was cancelled.
func (r *Reader) emit(ctx context.Context, out chan<- source.Result, res source.Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseEntry turns an LDAP entry into a canonical user. Failures are
// per-record errors carrying the external ID hex when derivable.
func (r *Reader) parseEntry(entry *goldap.Entry) (*model.User, error) {
	attrs := r.cfg.Attributes

	externalID, ok := readAttr(entry, attrs.UserID)
	if !ok {
		return nil, &source.RecordError{Reason: fmt.Errorf("missing attribute %q", attrs.UserID.Name)}
	}

	u := &model.User{ExternalID: externalID}
	// The schema has only one stable opaque id per user, so the
	// localpart equals the external ID hex.
	u.Localpart = u.ExternalIDHex()

	recordErr := func(format string, args ...interface{}) error {
		return &source.RecordError{
			ExternalIDHex: u.ExternalIDHex(),
			Reason:        fmt.Errorf(format, args...),
		}
	}

	status, ok := readAttr(entry, attrs.Status)
	if !ok {
		return nil, recordErr("missing attribute %q", attrs.Status.Name)
	}
	enabled, err := r.parseEnabled(status)
	if err != nil {
		return nil, recordErr("status attribute %q: %w", attrs.Status.Name, err)
	}
	u.Enabled = enabled

	for _, mandatory := range []struct {
		attr config.AttributeMapping
		dst  *string
	}{
		{attrs.FirstName, &u.FirstName},
		{attrs.LastName, &u.LastName},
		{attrs.Email, &u.Email},
	} {
		value, ok := readAttr(entry, mandatory.attr)
		if !ok {
			return nil, recordErr("missing attribute %q", mandatory.attr.Name)
		}
		*mandatory.dst = string(value)
	}

	// Only phone and preferred_username are optional.
	if value, ok := readAttr(entry, attrs.Phone); ok {
		u.Phone = string(value)
	}
	if value, ok := readAttr(entry, attrs.PreferredUsername); ok {
		u.DisplayName = string(value)
	} else {
		u.DisplayName = model.FallbackDisplayName(u.FirstName, u.LastName)
	}

	return u, nil
}

// readAttr resolves an attribute honouring its binary flag. A binary
// attribute is read from the raw byte list; a UTF-8 attribute falls
// back to the raw bytes when the server only returned those.
func readAttr(entry *goldap.Entry, m config.AttributeMapping) ([]byte, bool) {
	if m.Name == "" {
		return nil, false
	}
	if m.IsBinary {
		if raw := entry.GetRawAttributeValue(m.Name); len(raw) > 0 {
			return raw, true
		}
	}
	if v := entry.GetAttributeValue(m.Name); v != "" {
		return []byte(v), true
	}
	if raw := entry.GetRawAttributeValue(m.Name); len(raw) > 0 {
		return raw, true
	}
	return nil, false
}
